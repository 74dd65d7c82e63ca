package models

import "fmt"

// MessengerType is the closed set of delivery platforms. The provider set is
// small, known, and versioned with the binary; no runtime plugin loading.
type MessengerType string

const (
	MessengerVK       MessengerType = "vk"
	MessengerTelegram MessengerType = "telegram"
	MessengerMax      MessengerType = "max"
)

func ParseMessengerType(s string) (MessengerType, error) {
	switch MessengerType(s) {
	case MessengerVK, MessengerTelegram, MessengerMax:
		return MessengerType(s), nil
	}
	return "", fmt.Errorf("unknown messenger type: %q", s)
}
