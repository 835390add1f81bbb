package handlers

import "fmt"

// validateUserId はユーザーIDのバリデーションを行います
func validateUserId(userId string) error {
	if normalizeID(userId) == "" {
		return fmt.Errorf("userId required")
	}
	return nil
}

// validateRoomId はルームIDのバリデーションを行います
func validateRoomId(roomId string) error {
	if normalizeID(roomId) == "" {
		return fmt.Errorf("roomId required")
	}
	return nil
}
