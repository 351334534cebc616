package models

// PresenceResponse lists the participants currently present in a room
type PresenceResponse struct {
	RoomID         string   `json:"roomId"`
	PresentUserIDs []string `json:"presentUserIds"`
}
