package signaling

import (
	"encoding/json"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// validateDescription checks that blob is a {type, sdp} session description
// of the wanted type whose SDP body parses. It is only used when strict SDP
// validation is enabled; otherwise descriptions are relayed unexamined.
func validateDescription(field string, blob Blob, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(blob, &desc); err != nil {
		return validationErrorf(field, "not a session description: %v", err)
	}
	if desc.Type != want {
		return validationErrorf(field, "sdp type %q, want %q", desc.Type.String(), want.String())
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return validationErrorf(field, "missing sdp")
	}
	if _, err := desc.Unmarshal(); err != nil {
		return validationErrorf(field, "invalid sdp: %v", err)
	}
	return nil
}

// validateCandidate checks that blob has the RTCIceCandidateInit shape and,
// unless it is the end-of-candidates marker, a parseable candidate line.
func validateCandidate(blob Blob) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(blob, &init); err != nil {
		return validationErrorf("candidate", "not an ice candidate: %v", err)
	}
	if init.Candidate == "" {
		return nil
	}
	if init.SDPMid == nil && init.SDPMLineIndex == nil {
		return validationErrorf("candidate", "candidate needs sdpMid or sdpMLineIndex")
	}
	line := strings.TrimPrefix(strings.TrimPrefix(init.Candidate, "a="), "candidate:")
	if _, err := ice.UnmarshalCandidate(line); err != nil {
		return validationErrorf("candidate", "invalid candidate line: %v", err)
	}
	return nil
}
