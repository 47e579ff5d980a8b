package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Event stream (token passed as query param by browser clients, so the
	// hub endpoint stays public; it only carries status data).
	r.Get("/ws", s.hub.ServeWS)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Cameras
		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.HandleListCameras)
			r.Post("/", s.HandleRegisterCamera)
			r.Get("/discover", s.HandleDiscover)
			r.Post("/connect", s.HandleConnectAll)
			r.Post("/disconnect", s.HandleDisconnectAll)
			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.HandleGetCamera)
				r.Put("/", s.HandleUpdateCamera)
				r.Delete("/", s.HandleRemoveCamera)
				r.Post("/connect", s.HandleConnectCamera)
				r.Post("/disconnect", s.HandleDisconnectCamera)
				r.Post("/shutter", s.HandleCameraShutter)
			})
		})

		// Rig-wide recording
		r.Route("/recording", func(r chi.Router) {
			r.Post("/start", s.HandleStartRecording)
			r.Post("/stop", s.HandleStopRecording)
		})

		// Provisioning
		r.Route("/cohn", func(r chi.Router) {
			r.Get("/", s.HandleListCredentials)
			r.Get("/status", s.HandleFleetStatus)
			r.Route("/{serial}", func(r chi.Router) {
				r.Post("/provision", s.HandleProvision)
				r.Get("/", s.HandleGetCredential)
				r.Delete("/", s.HandleRemoveCredential)
				r.Get("/status", s.HandleCredentialStatus)
			})
		})

		// Shoots and takes
		r.Route("/shoots", func(r chi.Router) {
			r.Get("/", s.HandleListShoots)
			r.Post("/", s.HandleCreateShoot)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetShoot)
				r.Delete("/", s.HandleDeleteShoot)
				r.Post("/takes/start", s.HandleStartTake)
				r.Post("/takes/stop", s.HandleStopTake)
			})
		})

		// Presets
		r.Route("/presets", func(r chi.Router) {
			r.Get("/", s.HandleListPresets)
			r.Post("/", s.HandleCreatePreset)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetPreset)
				r.Put("/", s.HandleUpdatePreset)
				r.Delete("/", s.HandleDeletePreset)
			})
		})

		// Host WiFi
		r.Route("/wifi", func(r chi.Router) {
			r.Get("/", s.HandleWiFiStatus)
			r.Post("/connect", s.HandleWiFiConnect)
		})

		// Events
		r.Get("/events", s.HandleListEvents)
	})
}
