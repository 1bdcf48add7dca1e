package sauc

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/voxcanvas/pkg/provider/stt"
	"github.com/tidwall/gjson"
)

// Aggregate folds one response payload into the running transcript. The
// latest text found wins:
//
//   - result is a list: each item's text, or the item itself when it is a
//     bare string, in order;
//   - result is an object with text: that text;
//   - otherwise result.utterances[0].text when present.
//
// current is returned unchanged when the payload carries no text.
func Aggregate(payload json.RawMessage, current string) string {
	if len(payload) == 0 {
		return current
	}
	result := gjson.GetBytes(payload, "result")
	switch {
	case result.IsArray():
		for _, item := range result.Array() {
			if item.Type == gjson.String {
				current = item.String()
			} else if text := item.Get("text"); item.IsObject() && text.Exists() {
				current = text.String()
			}
		}
	case result.IsObject():
		if text := result.Get("text"); text.Exists() {
			current = text.String()
		} else if text := result.Get("utterances.0.text"); text.Exists() {
			current = text.String()
		}
	}
	return current
}

// transcriptBuilder accumulates the streamed responses of one recognition.
type transcriptBuilder struct {
	tr stt.Transcript
}

func (b *transcriptBuilder) add(r Response) {
	b.tr.Responses++
	if r.Warning != nil {
		b.tr.DegradedFrames++
	}
	if r.Payload == nil {
		return
	}
	b.tr.Text = Aggregate(r.Payload, b.tr.Text)

	if ms := gjson.GetBytes(r.Payload, "audio_info.duration"); ms.Exists() {
		b.tr.AudioDuration = time.Duration(ms.Int()) * time.Millisecond
	}
	if utts := gjson.GetBytes(r.Payload, "result.utterances"); utts.IsArray() {
		b.tr.Utterances = parseUtterances(utts)
	}
}

func (b *transcriptBuilder) transcript() stt.Transcript { return b.tr }

// parseUtterances converts the service's utterance list; times are in
// milliseconds.
func parseUtterances(list gjson.Result) []stt.Utterance {
	items := list.Array()
	out := make([]stt.Utterance, 0, len(items))
	for _, u := range items {
		out = append(out, stt.Utterance{
			Text:     u.Get("text").String(),
			Start:    time.Duration(u.Get("start_time").Int()) * time.Millisecond,
			End:      time.Duration(u.Get("end_time").Int()) * time.Millisecond,
			Definite: u.Get("definite").Bool(),
		})
	}
	return out
}
