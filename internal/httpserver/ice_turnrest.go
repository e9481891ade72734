package httpserver

import (
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
)

func toICEServerResponses(servers []webrtc.ICEServer) []iceServerResponse {
	// Non-nil so the response always encodes `[]` rather than `null`.
	out := make([]iceServerResponse, 0, len(servers))
	for _, server := range servers {
		resp := iceServerResponse{
			URLs:     server.URLs,
			Username: server.Username,
		}
		if cred, ok := server.Credential.(string); ok {
			resp.Credential = cred
		}
		out = append(out, resp)
	}
	return out
}

func hasTURNServer(servers []iceServerResponse) bool {
	for _, server := range servers {
		if isTURNServer(server) {
			return true
		}
	}
	return false
}

func isTURNServer(server iceServerResponse) bool {
	return config.HasTURNURL(webrtc.ICEServer{URLs: server.URLs})
}

// withTURNRESTCredentials replaces the credentials on every TURN entry. STUN
// entries are returned unchanged.
func withTURNRESTCredentials(servers []iceServerResponse, username, credential string) []iceServerResponse {
	out := make([]iceServerResponse, len(servers))
	for i, server := range servers {
		out[i] = server
		if isTURNServer(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
