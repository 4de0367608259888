package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           chatd API
// @version         1.0
// @description     Chat control plane: sessions, templates, streaming chat,
// @description     and hot-swappable inference backend management.
//
// @contact.name   chatd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization
//
// @schemes http
