package server

import "strings"

// parseRoomPath splits "/api/rooms/{id}" and "/api/rooms/{id}/{action}".
func parseRoomPath(path string) (roomID, action string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/rooms/")
	if !found || rest == "" {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	roomID = parts[0]
	if roomID == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		action = parts[1]
		if action == "" || strings.Contains(action, "/") {
			return "", "", false
		}
	}
	return roomID, action, true
}

// parseWebsocketPath splits "/ws/rooms/{id}".
func parseWebsocketPath(path string) (string, bool) {
	roomID, found := strings.CutPrefix(path, "/ws/rooms/")
	if !found || roomID == "" || strings.Contains(roomID, "/") {
		return "", false
	}
	return roomID, true
}
