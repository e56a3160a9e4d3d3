package httpapi

// maxBodyBytes bounds JSON request bodies and websocket frames.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// CORS configuration. If disabled, no CORS middleware is added and websocket
// upgrades require a same-origin request.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// wsOriginPolicy derives websocket origin checks from the CORS settings.
func wsOriginPolicy() (patterns []string, anyOrigin bool) {
	if !corsEnabled {
		return nil, false
	}
	for _, o := range corsAllowedOrigins {
		if o == "*" {
			return nil, true
		}
	}
	return corsAllowedOrigins, false
}
