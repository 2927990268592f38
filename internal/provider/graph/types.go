// Package graph implements a Provider that sends emails as a Microsoft 365
// mailbox through the Graph sendMail API.
package graph

import (
	"encoding/base64"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// sendMailRequest is the request body of the sendMail endpoint.
type sendMailRequest struct {
	Message         message `json:"message"`
	SaveToSentItems bool    `json:"saveToSentItems"`
}

type message struct {
	Subject       string       `json:"subject"`
	Body          itemBody     `json:"body"`
	ToRecipients  []recipient  `json:"toRecipients"`
	CcRecipients  []recipient  `json:"ccRecipients,omitempty"`
	BccRecipients []recipient  `json:"bccRecipients,omitempty"`
	Attachments   []attachment `json:"attachments,omitempty"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type attachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse is the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// errorResponse is the error envelope returned by Graph.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}

// newSendMailRequest converts msg into a sendMail request body. HTML wins
// over plain text when both are set.
func newSendMailRequest(msg *email.Email, saveToSent bool) *sendMailRequest {
	body := itemBody{ContentType: "text", Content: msg.TextBody}
	if msg.HtmlBody != "" {
		body = itemBody{ContentType: "html", Content: msg.HtmlBody}
	}

	attachments := make([]attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, attachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{
		Message: message{
			Subject:       msg.Subject,
			Body:          body,
			ToRecipients:  recipients(msg.To),
			CcRecipients:  recipients(msg.Cc),
			BccRecipients: recipients(msg.Bcc),
			Attachments:   attachments,
		},
		SaveToSentItems: saveToSent,
	}
}
