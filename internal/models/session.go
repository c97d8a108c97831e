package models

// SessionRequest asks the backend to mint a session token for this device,
// presenting the refresh token when one exists.
type SessionRequest struct {
	DeviceID     string `json:"device_id,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SessionResponse carries the minted tokens back to the device.
type SessionResponse struct {
	DeviceID     string `json:"device_id"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
