// Package api serves entities and index queries over HTTP.
// @title EntityIndexor API
// @version 1.0
// @description REST API for querying entities indexed by EntityIndexor
// @contact.name API Support
// @contact.url https://github.com/goran-ethernal/EntityIndexor
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
