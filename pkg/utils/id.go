package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID 產生訊息與 tool call 用的 id：32 個 hex 字元，依建立時間排序 (UUIDv7)
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// TurnID 是一輪對話的短 id，出現在 log 與 debug 目錄名稱
func TurnID() string {
	return uuid.NewString()[:8]
}
