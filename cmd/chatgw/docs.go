package main

// General API documentation for swaggo. Regenerate the document served under
// -tags=swagger with:
//
//	swag init -g cmd/chatgw/docs.go -d ./,./internal/httpapi,./pkg/types -o internal/httpapi --outputTypes json
//
// @title           chatgw API
// @version         1.0
// @description     Chat gateway in front of a local or remote language model.
//
// @BasePath  /
//
// @schemes http
