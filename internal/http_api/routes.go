package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	v1.POST("/payments", s.settlePayment)
	v1.GET("/payments/:network/:tx_hash", s.paymentStatus)
	v1.POST("/purchases/:id/accrue", s.accrue)
	v1.POST("/purchases/:id/cycles/:cycle/distribute", s.distribute)
	v1.GET("/purchases/:id/benefits", s.benefits)
	v1.GET("/purchases/:id/commissions", s.commissions)
	v1.POST("/benefits/:id/compensate", s.compensate)
}
