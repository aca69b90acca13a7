package router

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/chatdrop/idgen"
)

// Action names the intent carried by a Message.
type Action string

const (
	ActionDropPDF            Action = "dropPDFFromUrl"
	ActionExecuteAutomation  Action = "executeAutomation"
	ActionSubmitPrompt       Action = "submitPrompt"
	ActionRecheckURLs        Action = "recheckUrls"
	ActionGetURLStatus       Action = "getUrlStatus"
	ActionURLSettingsChanged Action = "urlSettingsChanged"
)

// Message is the envelope exchanged between contexts.
type Message struct {
	ID      string          `json:"id"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DropPDFPayload asks a frame to fetch a PDF and drop it.
type DropPDFPayload struct {
	PDFURL   string `json:"pdfUrl"`
	FileName string `json:"fileName"`
}

// AutomationPayload carries a captured page to drop as an HTML file.
type AutomationPayload struct {
	HTMLContent string `json:"htmlContent"`
	FileName    string `json:"fileName"`
	SourceURL   string `json:"sourceUrl"`
}

// SubmitPromptPayload asks the composer frame to send a prompt.
type SubmitPromptPayload struct {
	Prompt        string `json:"promptText"`
	WaitForUpload bool   `json:"waitForUpload"`
}

// URLSettingsPayload announces a new active endpoint.
type URLSettingsPayload struct {
	NewURL    string `json:"newUrl"`
	URLSource string `json:"urlSource"`
}

// NewMessage builds a Message with a fresh ID. A nil payload is omitted.
func NewMessage(action Action, payload any) (Message, error) {
	m := Message{ID: idgen.New(), Action: action}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("router: encode %s: %w", action, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// MustMessage is NewMessage for payloads that always encode.
func MustMessage(action Action, payload any) Message {
	m, err := NewMessage(action, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into dst.
func (m Message) Decode(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("router: %s: empty payload", m.Action)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("router: decode %s: %w", m.Action, err)
	}
	return nil
}

// FrameRef addresses one frame of one tab. Frame 0 is the top frame.
// References are looked up per delivery and never persisted.
type FrameRef struct {
	Tab   string `json:"tab"`
	Frame int    `json:"frame"`
}

func (f FrameRef) String() string { return fmt.Sprintf("%s#%d", f.Tab, f.Frame) }

// Reply is the structured answer to every Message.
type Reply struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message,omitempty"`
	ActiveURL       string   `json:"activeUrl,omitempty"`
	ActiveURLSource string   `json:"activeUrlSource,omitempty"`
	Frame           FrameRef `json:"frame,omitzero"`
	// Via names the transport that carried the reply.
	Via string `json:"via,omitempty"`
}
