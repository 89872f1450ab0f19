package manager

import "testing"

func TestIsFatalErrorDoesNotTriggerOnBareFragmentWord(t *testing.T) {
	// Ordinary yt-dlp progress/log text mentioning a fragment in passing
	// must not be classified as fatal on its own.
	if isFatalError("downloading fragment 3 of 12") {
		t.Error("bare word \"fragment\" must not be classified as fatal")
	}
}

func TestIsFatalErrorTriggersOnFragmentNotReceivedPhrase(t *testing.T) {
	if !isFatalError("ERROR: fragment 7 not received, unable to continue") {
		t.Error("expected \"fragment ... not received\" to be classified as fatal")
	}
}

func TestIsFatalErrorTriggersOnKnownSubstrings(t *testing.T) {
	if !isFatalError("ERROR: Video unavailable") {
		t.Error("expected \"video unavailable\" to be classified as fatal")
	}
	if !isFatalError("HTTP Error 404: Not Found") {
		t.Error("expected \"http error 404\" to be classified as fatal")
	}
}
