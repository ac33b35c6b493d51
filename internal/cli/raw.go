package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/kernel"
	"github.com/thruflo/knitron/internal/logging"
)

// rawMessage is an IOPub message in the dictionary layout Jupyter clients
// hand to Python code.
type rawMessage struct {
	MsgID        string             `json:"msg_id"`
	MsgType      kernel.MessageType `json:"msg_type"`
	Header       kernel.Header      `json:"header"`
	ParentHeader kernel.Header      `json:"parent_header"`
	Metadata     map[string]any     `json:"metadata"`
	Content      json.RawMessage    `json:"content"`
}

func newRawMessage(msg *kernel.Message) rawMessage {
	raw := rawMessage{
		MsgID:        msg.Header.MsgID,
		MsgType:      msg.Header.MsgType,
		Header:       msg.Header,
		ParentHeader: msg.ParentHeader,
		Metadata:     msg.Metadata,
		Content:      msg.Content,
	}
	if raw.Metadata == nil {
		raw.Metadata = map[string]any{}
	}
	if len(raw.Content) == 0 {
		raw.Content = json.RawMessage("{}")
	}
	return raw
}

// runRaw reads code from in, runs it on the kernel and writes every IOPub
// message of the execution, unclassified, to outPath.
func runRaw(ctx context.Context, cfg *config.Config, spec string, in io.Reader, outPath string) error {
	code, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read code: %w", err)
	}
	log := logging.With("kernel", spec)

	session, err := connectKernel(ctx, cfg, spec)
	if err != nil {
		return err
	}
	defer session.Close()

	execution, err := session.Execute(ctx, string(code), kernel.ExecuteOptions{StoreHistory: true})
	if err != nil {
		return fmt.Errorf("failed to execute code: %w", err)
	}

	messages := make([]rawMessage, 0, len(execution.Messages))
	for _, msg := range execution.Messages {
		messages = append(messages, newRawMessage(msg))
	}

	data, err := json.MarshalIndent(messages, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	data = append(data, '\n')

	log.Debug("writing messages", "path", outPath, "count", len(messages))
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}
