// Package twiml renders the minimal TwiML surface this service needs:
// a response carrying at most one outbound message, or an empty
// response that acknowledges the webhook without sending anything.
package twiml

import (
	"encoding/xml"
	"fmt"
)

// ContentType is the media type TwiML responses are served with.
const ContentType = "text/xml; charset=utf-8"

// Response is the document root.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Message *Message `xml:"Message,omitempty"`
}

// Message is a single outbound SMS instruction.
type Message struct {
	Body string `xml:",chardata"`
}

// Reply renders a response that sends one message with the given body.
func Reply(body string) ([]byte, error) {
	return render(Response{Message: &Message{Body: body}})
}

// Empty renders a response with no message element. The provider
// treats it as "received, no reply".
func Empty() ([]byte, error) {
	return render(Response{})
}

func render(r Response) ([]byte, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
