package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>silkcast stream server</title>
<style>
body { font-family: sans-serif; margin: 2em; max-width: 48em; }
code { background: #eee; padding: 0 0.3em; }
img { border: 1px solid #ccc; margin-top: 1em; }
</style>
</head>
<body>
<h1>silkcast stream server</h1>
<p>On-demand camera streaming. Open a device below or query the API:</p>
<ul>
<li><code>GET /device/list</code> - available cameras</li>
<li><code>GET /stream/live/0?codec=mjpeg&amp;w=640&amp;h=480&amp;fps=15</code> - MJPEG preview</li>
<li><code>GET /stream/live/0?codec=h264&amp;container=mp4</code> - fragmented MP4</li>
<li><code>GET /api/schema</code> - all routes and parameters</li>
</ul>
<p>Live preview of <code>video0</code>:</p>
<img id="preview" width="640" height="480" alt="waiting for camera">
<script>
document.getElementById('preview').src = '/stream/live/0?codec=mjpeg';
</script>
</body>
</html>
`

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}
