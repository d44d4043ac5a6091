package chat

import (
	"context"
	"testing"

	"github.com/Tyrowin/zodiacchat/internal/models"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
)

// TestAliceAndBob walks the register, auth, message and read flow between two
// connected users.
func TestAliceAndBob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newRecorder("conn-alice")
	f.dispatch(t, alice, protocol.TypeRegister, protocol.Credentials{Username: "alice", Zodiac: "tiger"})
	var aliceSession protocol.Session
	alice.last(t, protocol.TypeRegisterSuccess, &aliceSession)
	if aliceSession.Username != "alice" || aliceSession.Zodiac != "tiger" {
		t.Fatalf("register_success: %+v", aliceSession)
	}

	bob := newRecorder("conn-bob")
	f.dispatch(t, bob, protocol.TypeAuth, protocol.Credentials{Username: "bob", Zodiac: "horse"})
	var bobSession protocol.Session
	bob.last(t, protocol.TypeAuthSuccess, &bobSession)
	if bobSession.UserID == "" || bobSession.UserID == aliceSession.UserID {
		t.Fatalf("bob should get a fresh id, got %+v", bobSession)
	}

	alice.reset()
	bob.reset()

	f.dispatch(t, alice, protocol.TypeMessage, protocol.SendMessage{
		RecipientID: bobSession.UserID,
		Content:     "hi",
		Type:        models.TypeText,
	})

	aliceEvents := alice.types()
	if len(aliceEvents) != 2 || aliceEvents[0] != protocol.TypeMessageSent || aliceEvents[1] != protocol.TypeMessageDelivered {
		t.Fatalf("alice events: got %v, want [message_sent message_delivered]", aliceEvents)
	}

	var sent protocol.MessageEnvelope
	alice.last(t, protocol.TypeMessageSent, &sent)
	if sent.Message.Status != models.StatusSent || sent.Message.Content != "hi" {
		t.Errorf("message_sent: %+v", sent.Message)
	}
	if sent.Message.ConversationID != bobSession.UserID || sent.Message.IsGroup {
		t.Errorf("direct message fields: %+v", sent.Message)
	}

	var receipt protocol.MessageRef
	alice.last(t, protocol.TypeMessageDelivered, &receipt)
	if receipt.MessageID != sent.Message.ID {
		t.Errorf("message_delivered id: got %s, want %s", receipt.MessageID, sent.Message.ID)
	}

	var received protocol.MessageEnvelope
	bob.last(t, protocol.TypeMessageReceived, &received)
	if received.Message.ID != sent.Message.ID || received.Message.Status != models.StatusDelivered {
		t.Errorf("message_received: %+v", received.Message)
	}
	if received.Message.SenderName != "alice" {
		t.Errorf("sender name: got %q", received.Message.SenderName)
	}

	stored, _ := f.store.GetMessageByID(ctx, sent.Message.ID)
	if stored.Status != models.StatusDelivered {
		t.Errorf("stored status: got %s, want delivered", stored.Status)
	}

	f.dispatch(t, bob, protocol.TypeRead, protocol.Read{MessageID: sent.Message.ID})

	var read protocol.MessageRef
	alice.last(t, protocol.TypeMessageRead, &read)
	if read.MessageID != sent.Message.ID {
		t.Errorf("message_read id: got %s", read.MessageID)
	}
	stored, _ = f.store.GetMessageByID(ctx, sent.Message.ID)
	if stored.Status != models.StatusRead {
		t.Errorf("stored status: got %s, want read", stored.Status)
	}
}

func TestDirectMessageToOfflineRecipient(t *testing.T) {
	f := newFixture(t)

	alice, _ := f.login(t, "c1", "alice")
	bob, bobID := f.login(t, "c2", "bob")
	f.svc.Disconnect(context.Background(), bob)
	alice.reset()

	f.dispatch(t, alice, protocol.TypeMessage, protocol.SendMessage{RecipientID: bobID, Content: "later"})

	var sent protocol.MessageEnvelope
	alice.last(t, protocol.TypeMessageSent, &sent)
	if alice.count(protocol.TypeMessageDelivered) != 0 {
		t.Error("no delivery receipt expected for an offline recipient")
	}

	stored, _ := f.store.GetMessageByID(context.Background(), sent.Message.ID)
	if stored.Status != models.StatusSent {
		t.Errorf("stored status: got %s, want sent", stored.Status)
	}
	if stored.Type != models.TypeText {
		t.Errorf("type should default to text, got %q", stored.Type)
	}
}

func TestGroupMessageDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.login(t, "c1", "alice")
	bob, bobID := f.login(t, "c2", "bob")
	carol, carolID := f.login(t, "c3", "carol")
	f.svc.Disconnect(ctx, carol)

	group, err := f.svc.CreateGroup(ctx, alice, "zodiac circle", []string{bobID, carolID})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	bob.reset()

	msg, err := f.svc.SendMessage(ctx, alice, protocol.SendMessage{GroupID: group.ID, Content: "hello all"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !msg.IsGroup || msg.ConversationID != group.ID {
		t.Errorf("group message fields: %+v", msg)
	}

	if n := bob.count(protocol.TypeMessageReceived); n != 1 {
		t.Errorf("bob should get exactly one message_received, got %d", n)
	}
	if n := alice.count(protocol.TypeMessageReceived); n != 0 {
		t.Errorf("sender must not receive its own group message, got %d", n)
	}
	if n := alice.count(protocol.TypeMessageDelivered); n != 0 {
		t.Errorf("group messages carry no delivery receipt, got %d", n)
	}

	stored, _ := f.store.GetMessageByID(ctx, msg.ID)
	if stored.Status != models.StatusDelivered {
		t.Errorf("stored status: got %s, want delivered", stored.Status)
	}
}

func TestGroupMessageWithNoOnlineMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.login(t, "c1", "alice")
	bob, bobID := f.login(t, "c2", "bob")
	f.svc.Disconnect(ctx, bob)

	group, err := f.svc.CreateGroup(ctx, alice, "quiet", []string{bobID})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	msg, err := f.svc.SendMessage(ctx, alice, protocol.SendMessage{GroupID: group.ID, Content: "anyone?"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	stored, _ := f.store.GetMessageByID(ctx, msg.ID)
	if stored.Status != models.StatusSent {
		t.Errorf("stored status: got %s, want sent", stored.Status)
	}
}

func TestDeliveryNotCountedWhenSendFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.login(t, "c1", "alice")
	bob, bobID := f.login(t, "c2", "bob")
	bob.close()

	msg, err := f.svc.SendMessage(ctx, alice, protocol.SendMessage{RecipientID: bobID, Content: "hello?"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if alice.count(protocol.TypeMessageDelivered) != 0 {
		t.Error("a rejected frame must not produce a delivery receipt")
	}
	stored, _ := f.store.GetMessageByID(ctx, msg.ID)
	if stored.Status != models.StatusSent {
		t.Errorf("stored status: got %s, want sent", stored.Status)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.login(t, "c1", "alice")
	_, bobID := f.login(t, "c2", "bob")

	tests := []struct {
		name    string
		payload protocol.SendMessage
		want    string
	}{
		{name: "no target", payload: protocol.SendMessage{Content: "hi"}, want: "A recipientId or groupId is required"},
		{name: "empty text", payload: protocol.SendMessage{RecipientID: bobID, Content: "  "}, want: "Message content is required"},
		{name: "bad type", payload: protocol.SendMessage{RecipientID: bobID, Content: "x", Type: "video"}, want: `Unsupported message type "video"`},
		{name: "unknown recipient", payload: protocol.SendMessage{RecipientID: "ghost", Content: "hi"}, want: "Recipient not found"},
		{name: "unknown group", payload: protocol.SendMessage{GroupID: "ghost", Content: "hi"}, want: "Group not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.reset()
			f.dispatch(t, alice, protocol.TypeMessage, tt.payload)
			if msg := alice.lastError(t); msg != tt.want {
				t.Errorf("error: got %q, want %q", msg, tt.want)
			}
			if alice.count(protocol.TypeMessageSent) != 0 {
				t.Error("rejected message must not be echoed")
			}
		})
	}
}

func TestImageMessagesKeepContent(t *testing.T) {
	f := newFixture(t, withSanitizer())
	alice, _ := f.login(t, "c1", "alice")
	_, bobID := f.login(t, "c2", "bob")

	dataURL := "data:image/png;base64,iVBORw0KGgo="
	msg, err := f.svc.SendMessage(context.Background(), alice, protocol.SendMessage{
		RecipientID: bobID,
		Content:     dataURL,
		Type:        models.TypeImage,
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Content != dataURL || msg.Type != models.TypeImage {
		t.Errorf("image message altered: %+v", msg)
	}
}

func TestTextMessagesSanitized(t *testing.T) {
	f := newFixture(t, withSanitizer())
	ctx := context.Background()
	alice, _ := f.login(t, "c1", "alice")
	_, bobID := f.login(t, "c2", "bob")

	verbatim := []string{
		"a < b & c",
		"&lt;script&gt;alert(1)&lt;/script&gt;",
	}
	for _, content := range verbatim {
		msg, err := f.svc.SendMessage(ctx, alice, protocol.SendMessage{RecipientID: bobID, Content: content})
		if err != nil {
			t.Fatalf("SendMessage(%q) failed: %v", content, err)
		}
		stored, _ := f.store.GetMessageByID(ctx, msg.ID)
		if msg.Content != content || stored == nil || stored.Content != content {
			t.Errorf("content altered: sent %q, got %q", content, msg.Content)
		}
	}

	for _, content := range []string{"<b>hi</b> & bye", "if x<y and y>z then", "<img src=x>"} {
		alice.reset()
		f.dispatch(t, alice, protocol.TypeMessage, protocol.SendMessage{RecipientID: bobID, Content: content})
		if got := alice.lastError(t); got != "Message content must not contain markup" {
			t.Errorf("%q: got %q", content, got)
		}
		if n := alice.count(protocol.TypeMessageSent); n != 0 {
			t.Errorf("%q: rejected message was acknowledged", content)
		}
	}
}

func TestTextMessagesVerbatimWithoutSanitizer(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.login(t, "c1", "alice")
	_, bobID := f.login(t, "c2", "bob")

	content := "use <Enter> to send"
	msg, err := f.svc.SendMessage(context.Background(), alice, protocol.SendMessage{RecipientID: bobID, Content: content})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Content != content {
		t.Errorf("content: got %q, want %q", msg.Content, content)
	}
}

func TestNotifyTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, aliceID := f.login(t, "c1", "alice")
	bob, bobID := f.login(t, "c2", "bob")
	carol, carolID := f.login(t, "c3", "carol")

	t.Run("direct", func(t *testing.T) {
		bob.reset()
		carol.reset()
		f.dispatch(t, alice, protocol.TypeTyping, protocol.Typing{RecipientID: bobID, IsTyping: true})

		var ev protocol.UserTyping
		bob.last(t, protocol.TypeUserTyping, &ev)
		if ev.UserID != aliceID || ev.Username != "alice" || !ev.IsTyping || ev.GroupID != "" {
			t.Errorf("user_typing: %+v", ev)
		}
		if carol.count(protocol.TypeUserTyping) != 0 {
			t.Error("typing must only reach the recipient")
		}
	})

	t.Run("group", func(t *testing.T) {
		group, err := f.svc.CreateGroup(ctx, alice, "trio", []string{bobID, carolID})
		if err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		alice.reset()
		bob.reset()
		carol.reset()

		f.dispatch(t, bob, protocol.TypeTyping, protocol.Typing{GroupID: group.ID, IsTyping: false})

		for _, conn := range []*recorder{alice, carol} {
			var ev protocol.UserTyping
			conn.last(t, protocol.TypeUserTyping, &ev)
			if ev.GroupID != group.ID || ev.UserID != bobID || ev.IsTyping {
				t.Errorf("%s user_typing: %+v", conn.id, ev)
			}
		}
		if bob.count(protocol.TypeUserTyping) != 0 {
			t.Error("typing must not echo to the typist")
		}
	})

	t.Run("offline recipient is silent", func(t *testing.T) {
		alice.reset()
		f.dispatch(t, alice, protocol.TypeTyping, protocol.Typing{RecipientID: "ghost", IsTyping: true})
		if alice.count(protocol.TypeError) != 0 {
			t.Errorf("unexpected error: %v", alice.types())
		}
	})
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.login(t, "c1", "alice")
	bob, bobID := f.login(t, "c2", "bob")

	msg, err := f.svc.SendMessage(ctx, alice, protocol.SendMessage{RecipientID: bobID, Content: "read me"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	alice.reset()

	for i := 0; i < 3; i++ {
		if err := f.svc.MarkRead(ctx, bob, msg.ID); err != nil {
			t.Fatalf("MarkRead #%d failed: %v", i+1, err)
		}
	}

	if n := alice.count(protocol.TypeMessageRead); n != 3 {
		t.Errorf("message_read receipts: got %d, want 3", n)
	}
	stored, _ := f.store.GetMessageByID(ctx, msg.ID)
	if stored.Status != models.StatusRead {
		t.Errorf("stored status: got %s, want read", stored.Status)
	}

	// Sender offline: status still updates, no receipt.
	f.svc.Disconnect(ctx, alice)
	alice.reset()
	if err := f.svc.MarkRead(ctx, bob, msg.ID); err != nil {
		t.Fatalf("MarkRead with sender offline failed: %v", err)
	}
	if alice.count(protocol.TypeMessageRead) != 0 {
		t.Error("offline sender must not receive receipts")
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	f := newFixture(t)
	bob, _ := f.login(t, "c1", "bob")

	f.dispatch(t, bob, protocol.TypeRead, protocol.Read{MessageID: "missing"})
	if msg := bob.lastError(t); msg != "Message not found" {
		t.Errorf("error: got %q", msg)
	}
}
