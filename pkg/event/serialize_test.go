package event

import (
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("VerificationRequestedDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		data := VerificationRequestedData{
			Email:  "bob@example.com",
			UserID: "user-1",
			Token:  "signed-token",
		}

		before := time.Now().UTC()
		ev, err := New("user-1", AggregateTypeUser, TypeVerificationRequested, data)
		after := time.Now().UTC()

		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "user-1" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "user-1")
		}
		if ev.AggregateType != AggregateTypeUser {
			t.Errorf("AggregateType = %q, want %q", ev.AggregateType, AggregateTypeUser)
		}
		if ev.EventType != TypeVerificationRequested {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeVerificationRequested)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}

		decoded, err := DecodeData[VerificationRequestedData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *decoded != data {
			t.Errorf("Data = %+v, want %+v", *decoded, data)
		}
	})

	t.Run("連続して生成したイベントのIDが重複しないこと", func(t *testing.T) {
		t.Parallel()

		a, err := New("user-1", AggregateTypeUser, TypePasswordResetRequested, PasswordResetRequestedData{Email: "a@example.com"})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		b, err := New("user-1", AggregateTypeUser, TypePasswordResetRequested, PasswordResetRequestedData{Email: "a@example.com"})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if a.ID == b.ID {
			t.Errorf("IDが重複している: %s", a.ID)
		}
	})

	t.Run("未対応のイベント種別はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("user-1", AggregateTypeUser, "UserDeleted", PasswordResetRequestedData{}); err == nil {
			t.Error("エラーが返されるべき")
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("user-1", AggregateTypeUser, TypeVerificationRequested, make(chan int)); err == nil {
			t.Error("エラーが返されるべき")
		}
	})
}

// TestTypeKnown は通知対象のイベント種別の判定を検証する。
func TestTypeKnown(t *testing.T) {
	t.Parallel()

	tests := map[Type]bool{
		TypeVerificationRequested:  true,
		TypePasswordResetRequested: true,
		"AlbumCreated":             false,
		"":                         false,
	}
	for typ, want := range tests {
		if got := typ.Known(); got != want {
			t.Errorf("Type(%q).Known() = %v, want %v", typ, got, want)
		}
	}
}

// TestDecodeData はDecodeData関数を検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("不正なJSONはエラーになること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: []byte("{invalid")}
		if _, err := DecodeData[PasswordResetRequestedData](ev); err == nil {
			t.Error("エラーが返されるべき")
		}
	})
}
