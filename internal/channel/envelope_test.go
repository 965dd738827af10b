package channel

import (
	"testing"

	"pixbot/internal/domain"
)

func TestParseEnvelope_URLVerification(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"url_verification","challenge":"xyz"}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != "url_verification" || env.Challenge != "xyz" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestDecodeEvent_Message(t *testing.T) {
	body := `{
		"type":"event_callback","event_id":"Ev123",
		"event":{
			"type":"message","subtype":"file_share","user":"U1",
			"channel":"C1","channel_type":"channel","text":"fix this",
			"ts":"100.2","thread_ts":"100.1",
			"files":[{"name":"a.png","mimetype":"image/png","url_private":"https://files/a"}]
		}
	}`
	env, err := ParseEnvelope([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := env.DecodeEvent()
	if err != nil {
		t.Fatal(err)
	}

	if ev.Kind != domain.KindMessage {
		t.Errorf("expected message kind, got %s", ev.Kind)
	}
	if ev.ID != "Ev123" || ev.Channel != "C1" || ev.Timestamp != "100.2" || ev.ThreadTS != "100.1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if len(ev.Attachments) != 1 || ev.Attachments[0].URL != "https://files/a" {
		t.Errorf("unexpected attachments: %+v", ev.Attachments)
	}
	if ev.FromBot {
		t.Error("user message should not carry bot marker")
	}
}

func TestDecodeEvent_AppMention(t *testing.T) {
	body := `{"type":"event_callback","event_id":"Ev2","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@UBOT> hi","ts":"100.3"}}`
	env, _ := ParseEnvelope([]byte(body))
	ev, err := env.DecodeEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != domain.KindAppMention {
		t.Errorf("expected app_mention kind, got %s", ev.Kind)
	}
}

func TestDecodeEvent_BotMarkers(t *testing.T) {
	body := `{"type":"event_callback","event":{"type":"message","bot_id":"B1","channel":"C1","text":"hi","ts":"1.0"}}`
	env, _ := ParseEnvelope([]byte(body))
	ev, err := env.DecodeEvent()
	if err != nil {
		t.Fatal(err)
	}
	if !ev.FromBot {
		t.Error("bot_id should set the bot-origin marker")
	}
}

func TestDecodeEvent_EditSubtypeIsOther(t *testing.T) {
	body := `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","channel":"C1","ts":"1.0"}}`
	env, _ := ParseEnvelope([]byte(body))
	ev, err := env.DecodeEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != domain.KindOther {
		t.Errorf("edits should be KindOther, got %s", ev.Kind)
	}
}
