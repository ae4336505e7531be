package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// ExtractText returns the first non-blank text carried by msg, checking plain
// text first and then captions and interactive replies.
func ExtractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	candidates := []string{
		msg.GetConversation(),
		msg.GetExtendedTextMessage().GetText(),
		msg.GetImageMessage().GetCaption(),
		msg.GetVideoMessage().GetCaption(),
		msg.GetDocumentMessage().GetCaption(),
		msg.GetButtonsResponseMessage().GetSelectedDisplayText(),
		msg.GetListResponseMessage().GetTitle(),
		msg.GetTemplateButtonReplyMessage().GetSelectedDisplayText(),
	}
	for _, c := range candidates {
		if t := strings.TrimSpace(c); t != "" {
			return t
		}
	}
	return ""
}

// QuotedMessageID returns the id of the message msg replies to, if any.
func QuotedMessageID(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	for _, ci := range []*waE2E.ContextInfo{
		msg.GetExtendedTextMessage().GetContextInfo(),
		msg.GetImageMessage().GetContextInfo(),
		msg.GetVideoMessage().GetContextInfo(),
		msg.GetDocumentMessage().GetContextInfo(),
	} {
		if id := ci.GetStanzaID(); id != "" {
			return id
		}
	}
	return ""
}
