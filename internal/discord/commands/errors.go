package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/hertz/internal/app"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/resilience"
	"github.com/MrWong99/hertz/internal/resolve"
	"github.com/MrWong99/hertz/internal/voicelink"
	"github.com/MrWong99/hertz/pkg/audio"
)

// userMessage turns a command error into the text shown in Discord. The
// wrapped cause is logged, never shown.
func userMessage(err error) string {
	var wrong *wrongChannelError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, playback.ErrNoActiveTrack):
		return "Nothing is playing right now."
	case errors.Is(err, playback.ErrAlreadyPaused):
		return "Playback is already paused."
	case errors.Is(err, playback.ErrNotPaused):
		return "Playback is not paused."
	case errors.Is(err, playback.ErrFaulted):
		return "Lost the voice connection. Please try again."
	case errors.Is(err, playback.ErrSessionClosed), errors.Is(err, app.ErrRegistryClosed):
		return "The player is shutting down. Please try again in a moment."
	case errors.Is(err, voicelink.ErrConnectFailure):
		return "Could not join your voice channel. Check my permissions and try again."
	case errors.Is(err, resolve.ErrNotFound):
		return "No results found."
	case errors.Is(err, resolve.ErrAmbiguous):
		return "That link points to more than one track. Playlists are not supported, link a single video instead."
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrAllFailed):
		return "The lookup service is unavailable right now. Please try again later."
	case errors.Is(err, audio.ErrUnplayable):
		return "That source cannot be played."
	case errors.Is(err, queue.ErrIndexOutOfRange):
		return "There is no track at that position."
	case errors.Is(err, queue.ErrInvalidMode):
		return "Unknown loop mode. Use off, track or queue."
	case errors.As(err, &wrong):
		return fmt.Sprintf("Join <#%s> to control playback.", wrong.channelID)
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long. Please try again."
	default:
		return "Something went wrong."
	}
}

// commandStatus is the metrics status label of a command outcome.
func commandStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, playback.ErrNoActiveTrack),
		errors.Is(err, playback.ErrAlreadyPaused),
		errors.Is(err, playback.ErrNotPaused),
		errors.Is(err, queue.ErrIndexOutOfRange),
		errors.Is(err, queue.ErrInvalidMode),
		errors.Is(err, resolve.ErrNotFound),
		errors.Is(err, resolve.ErrAmbiguous),
		errors.As(err, new(*wrongChannelError)):
		return "rejected"
	default:
		return "error"
	}
}
