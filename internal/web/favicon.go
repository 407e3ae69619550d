// internal/web/favicon.go
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Antenna mast with signal arcs
const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32" width="32" height="32">
  <circle cx="16" cy="16" r="16" fill="#1d4ed8"/>
  <g fill="none" stroke="#ffffff" stroke-width="2" stroke-linecap="round">
    <path d="M 10,10 A 8,8 0 0 0 10,20"/>
    <path d="M 22,10 A 8,8 0 0 1 22,20"/>
    <path d="M 7,7 A 12,12 0 0 0 7,23"/>
    <path d="M 25,7 A 12,12 0 0 1 25,23"/>
    <path d="M 16,15 L 16,27"/>
  </g>
  <circle cx="16" cy="15" r="2" fill="#ffffff"/>
</svg>`

func (s *Server) serveFavicon(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/svg+xml", []byte(faviconSVG))
}
