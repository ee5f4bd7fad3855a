// Package tgui builds Telegram HTML message text.
//
// Anything that comes from outside (event titles, team names, URLs) must go
// through Esc or one of the wrapping helpers before being embedded.
package tgui
