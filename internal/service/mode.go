package service

import (
	"regexp"

	"github.com/marketplace_support/backend/internal/models"
)

// liveRequest matches the phrases that hand a chat over to a human agent.
// Whole words only: "agents" or "personal" do not trigger a switch.
var liveRequest = regexp.MustCompile(`(?i)\b(live\s+support|human|agent|person|support\s+team)\b`)

const (
	noticeLiveMode         = "You are now connected to live support. An agent will be with you shortly."
	noticeAIMode           = "You are now chatting with our AI assistant."
	noticeNoAgents         = "All our agents are busy right now. Please stay in the chat and someone will reply soon."
	noticeAssistantDown    = "Our assistant is unavailable right now. Type \"human\" to reach a support agent."
	noticeChatEnded        = "This chat has ended. Thanks for contacting us!"
	noticeAgentAssignedFmt = "%s will be helping you today."
	noticeAgentJoinedFmt   = "%s joined the chat."
)

// DetectLiveRequest reports whether a visitor message asks for a human agent.
func DetectLiveRequest(content string) bool {
	return liveRequest.MatchString(content)
}

func ValidMode(mode string) bool {
	return mode == models.ModeAI || mode == models.ModeLive
}

func modeNotice(mode string) string {
	if mode == models.ModeLive {
		return noticeLiveMode
	}
	return noticeAIMode
}
