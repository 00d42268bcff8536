package server

import "github.com/gin-gonic/gin"

// RouteParam documents one query parameter for the schema endpoint.
type RouteParam struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// RouteInfo is one entry of the machine-readable route schema.
type RouteInfo struct {
	Method      string       `json:"method"`
	Path        string       `json:"path"`
	Description string       `json:"description"`
	Params      []RouteParam `json:"params,omitempty"`
}

var liveParamsDoc = []RouteParam{
	{Name: "codec", Kind: "string", Description: "mjpeg or h264"},
	{Name: "container", Kind: "string", Description: "raw or mp4 (mp4 requires h264)"},
	{Name: "w", Kind: "int", Description: "frame width, default 640"},
	{Name: "h", Kind: "int", Description: "frame height, default 480"},
	{Name: "fps", Kind: "int", Description: "frame rate, default 15"},
	{Name: "bitrate", Kind: "int", Description: "h264 bitrate in kbps, default 256"},
	{Name: "quality", Kind: "int", Description: "mjpeg quality 1-100, default 80"},
	{Name: "gop", Kind: "int", Description: "keyframe interval in frames, default 30"},
	{Name: "latency", Kind: "string", Description: "view, low, ultra or the zerolatency preset"},
}

func routeTable() []RouteInfo {
	udpParams := append([]RouteParam{
		{Name: "target", Kind: "string", Description: "receiver IPv4 address, required"},
		{Name: "port", Kind: "int", Description: "receiver port, default 5000"},
		{Name: "duration", Kind: "int", Description: "send duration in seconds, default 10"},
	}, liveParamsDoc...)

	return []RouteInfo{
		{Method: "GET", Path: "/", Description: "interactive test page"},
		{Method: "GET", Path: "/device/list", Description: "list capture device ids"},
		{Method: "GET", Path: "/device/:id/caps", Description: "pixel formats and frame sizes of one device"},
		{Method: "GET", Path: "/stream/live/:id", Description: "open-ended live stream", Params: liveParamsDoc},
		{Method: "GET", Path: "/stream/ws/:id", Description: "live stream over websocket, one binary message per frame", Params: liveParamsDoc},
		{Method: "GET", Path: "/stream/udp/:id", Description: "start a bounded UDP sender", Params: udpParams},
		{Method: "GET", Path: "/stream/:id/stats", Description: "per-session statistics"},
		{Method: "POST", Path: "/stream/:id/feedback", Description: "client feedback, type=idr forces a keyframe",
			Params: []RouteParam{{Name: "type", Kind: "string", Description: "feedback kind, only idr"}}},
		{Method: "GET", Path: "/api/schema", Description: "this route listing"},
		{Method: "GET", Path: "/api/status", Description: "process and host health"},
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/device/list", s.handleDeviceList)
	s.engine.GET("/device/:id/caps", s.handleDeviceCaps)

	s.engine.GET("/stream/live/:id", s.handleLive)
	s.engine.GET("/stream/ws/:id", s.handleWS)
	s.engine.GET("/stream/udp/:id", s.handleUDP)
	s.engine.GET("/stream/:id/stats", s.handleStats)
	s.engine.POST("/stream/:id/feedback", s.handleFeedback)

	s.engine.GET("/api/schema", s.handleSchema)
	s.engine.GET("/api/status", s.handleStatus)
}

func (s *Server) handleSchema(c *gin.Context) {
	c.JSON(200, gin.H{"routes": routeTable()})
}
