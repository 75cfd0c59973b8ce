package gateway

import (
	"airose/pkg/api"
)

// Re-export the transport types from api so channel code only needs one import.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type SessionContext = api.SessionContext

type MessageHandler = api.MessageHandler
