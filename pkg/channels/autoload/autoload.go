// Package autoload registers every built-in channel.
package autoload

import (
	_ "airose/pkg/channels/telegram"
	_ "airose/pkg/channels/web"
)
