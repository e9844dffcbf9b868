package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/bookshop/internal/model"
	"github.com/nao1215/bookshop/internal/store"
	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/event"
	"github.com/nao1215/bookshop/pkg/password"
	"github.com/nao1215/bookshop/pkg/token"
)

// recordingNotifier は公開されたイベントを記録するNotifier。
type recordingNotifier struct {
	mu     sync.Mutex
	events []*event.Event
	reject bool
}

func (n *recordingNotifier) Publish(ev *event.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reject {
		return false
	}
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) last(t *testing.T) *event.Event {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		t.Fatal("イベントが公開されていない")
	}
	return n.events[len(n.events)-1]
}

type fixture struct {
	svc      *Service
	store    store.Store
	tokens   *token.Manager
	notifier *recordingNotifier
	now      *time.Time
}

// newFixture はインメモリSQLiteを使ったServiceを生成する。
func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.OpenSQLite(context.Background(), ":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("ストアの生成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	now := time.Now()
	clock := func() time.Time { return now }
	tokens, err := token.NewManager("identity-test-secret", "HS256", token.WithClock(clock))
	if err != nil {
		t.Fatalf("トークンマネージャの生成に失敗: %v", err)
	}

	notifier := &recordingNotifier{}
	return &fixture{
		svc:      NewService(st, password.NewBcrypt(bcrypt.MinCost), tokens, notifier, zap.NewNop()),
		store:    st,
		tokens:   tokens,
		notifier: notifier,
		now:      &now,
	}
}

func bobInput() RegisterInput {
	return RegisterInput{
		Username:    "bob",
		Email:       "bob@example.com",
		Password:    "p@ssw0rd",
		FirstName:   "Bob",
		LastName:    "Smith",
		Gender:      "male",
		DateOfBirth: "1990-01-01",
	}
}

// registerVerified は確認済みのユーザーを登録する。
func (f *fixture) registerVerified(t *testing.T, in RegisterInput) *model.User {
	t.Helper()

	user, err := f.svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register()でエラーが発生: %v", err)
	}
	data, err := event.DecodeData[event.VerificationRequestedData](f.notifier.last(t))
	if err != nil {
		t.Fatalf("イベントデータの取得に失敗: %v", err)
	}
	if err := f.svc.VerifyEmail(context.Background(), user.ID, data.Token); err != nil {
		t.Fatalf("VerifyEmail()でエラーが発生: %v", err)
	}
	return user
}

func assertCode(t *testing.T, err error, want apperr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("エラーが返されるべき（want %s）", want)
	}
	if got := apperr.CodeOf(err); got != want {
		t.Errorf("code = %s, want %s (err = %v)", got, want, err)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("未確認状態で登録され確認イベントが公開されること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		user, err := f.svc.Register(context.Background(), bobInput())
		if err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
		if user.ID == "" || user.IsVerified || !user.IsActive || user.Provider != model.ProviderLocal {
			t.Errorf("登録結果が不正: %+v", user)
		}
		if user.PasswordHash == "p@ssw0rd" {
			t.Error("パスワードが平文で保存されている")
		}

		ev := f.notifier.last(t)
		if ev.EventType != event.TypeVerificationRequested {
			t.Fatalf("event_type = %s", ev.EventType)
		}
		data, err := event.DecodeData[event.VerificationRequestedData](ev)
		if err != nil {
			t.Fatalf("イベントデータの取得に失敗: %v", err)
		}
		if data.Email != "bob@example.com" || data.UserID != user.ID {
			t.Errorf("イベントデータが不正: %+v", data)
		}
		claims, err := f.tokens.Verify(token.KindEmailVerification, data.Token)
		if err != nil {
			t.Fatalf("確認トークンが検証できない: %v", err)
		}
		if claims.Email() != "bob@example.com" || claims.UserID != user.ID {
			t.Errorf("確認トークンのクレームが不正: %+v", claims)
		}
	})

	t.Run("ユーザー名またはメールアドレスが重複する場合はCONFLICTになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		if _, err := f.svc.Register(context.Background(), bobInput()); err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}

		sameName := bobInput()
		sameName.Email = "other@example.com"
		_, err := f.svc.Register(context.Background(), sameName)
		assertCode(t, err, apperr.CodeConflict)

		sameEmail := bobInput()
		sameEmail.Username = "other"
		_, err = f.svc.Register(context.Background(), sameEmail)
		assertCode(t, err, apperr.CodeConflict)
	})

	t.Run("入力値が不正な場合はBAD_REQUESTになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		tests := []struct {
			name   string
			modify func(*RegisterInput)
		}{
			{name: "日付形式", modify: func(in *RegisterInput) { in.DateOfBirth = "01/01/1990" }},
			{name: "性別", modify: func(in *RegisterInput) { in.Gender = "unknown" }},
			{name: "72バイト超のパスワード", modify: func(in *RegisterInput) { in.Password = strings.Repeat("x", 73) }},
			{name: "タグのみの名前", modify: func(in *RegisterInput) { in.FirstName = "<script></script>" }},
		}
		for _, tt := range tests {
			in := bobInput()
			tt.modify(&in)
			_, err := f.svc.Register(context.Background(), in)
			if apperr.CodeOf(err) != apperr.CodeBadRequest {
				t.Errorf("%s: err = %v, want BAD_REQUEST", tt.name, err)
			}
		}
	})

	t.Run("名前のHTMLタグが除去されること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		in := bobInput()
		in.FirstName = "<b>Bob</b>"
		in.LastName = "O'Brien"
		user, err := f.svc.Register(context.Background(), in)
		if err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
		if user.FirstName != "Bob" || user.LastName != "O'Brien" {
			t.Errorf("名前 = %q %q", user.FirstName, user.LastName)
		}
	})

	t.Run("通知が受け付けられなくても登録は成功すること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.notifier.reject = true
		if _, err := f.svc.Register(context.Background(), bobInput()); err != nil {
			t.Errorf("Register()でエラーが発生: %v", err)
		}
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("メールアドレスとユーザー名のどちらでもログインできること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		for _, identifier := range []string{"bob@example.com", "bob"} {
			result, err := f.svc.Login(context.Background(), identifier, "p@ssw0rd")
			if err != nil {
				t.Fatalf("Login(%s)でエラーが発生: %v", identifier, err)
			}
			if result.TokenType != "bearer" || result.ExpiresIn != 1800 {
				t.Errorf("ログイン結果が不正: %+v", result)
			}
			claims, err := f.tokens.Verify(token.KindAccess, result.AccessToken)
			if err != nil {
				t.Fatalf("アクセストークンが検証できない: %v", err)
			}
			if claims.Email() != "bob@example.com" {
				t.Errorf("sub = %q", claims.Email())
			}
		}
	})

	t.Run("パスワード不一致と未登録はUNAUTHORIZEDになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		_, err := f.svc.Login(context.Background(), "bob@example.com", "wrong")
		assertCode(t, err, apperr.CodeUnauthorized)
		_, err = f.svc.Login(context.Background(), "nobody@example.com", "p@ssw0rd")
		assertCode(t, err, apperr.CodeUnauthorized)
		_, err = f.svc.Login(context.Background(), "nobody", "p@ssw0rd")
		assertCode(t, err, apperr.CodeUnauthorized)
	})

	t.Run("メール未確認の場合はFORBIDDENになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		if _, err := f.svc.Register(context.Background(), bobInput()); err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
		_, err := f.svc.Login(context.Background(), "bob", "p@ssw0rd")
		assertCode(t, err, apperr.CodeForbidden)
	})
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()

	t.Run("2回目の確認はNOT_FOUNDになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		user := f.registerVerified(t, bobInput())
		data, _ := event.DecodeData[event.VerificationRequestedData](f.notifier.last(t))

		err := f.svc.VerifyEmail(context.Background(), user.ID, data.Token)
		assertCode(t, err, apperr.CodeNotFound)
	})

	t.Run("ユーザーIDが一致しない場合はINVALID_TOKENになり確認されないこと", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		user, err := f.svc.Register(context.Background(), bobInput())
		if err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
		data, _ := event.DecodeData[event.VerificationRequestedData](f.notifier.last(t))

		err = f.svc.VerifyEmail(context.Background(), "another-user-id", data.Token)
		assertCode(t, err, apperr.CodeInvalidToken)

		got, _ := f.store.FindByID(context.Background(), user.ID)
		if got.IsVerified {
			t.Error("確認済みになってはいけない")
		}
	})

	t.Run("不正なトークンと別種のトークンはINVALID_TOKENになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		user, err := f.svc.Register(context.Background(), bobInput())
		if err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}

		assertCode(t, f.svc.VerifyEmail(context.Background(), user.ID, "garbage"), apperr.CodeInvalidToken)

		access, err := f.tokens.Issue(token.KindAccess, "bob@example.com", user.ID)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		assertCode(t, f.svc.VerifyEmail(context.Background(), user.ID, access), apperr.CodeInvalidToken)
	})

	t.Run("user_idを持たない確認トークンはINVALID_TOKENになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		signed, err := f.tokens.Issue(token.KindEmailVerification, "bob@example.com", "")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		assertCode(t, f.svc.VerifyEmail(context.Background(), "", signed), apperr.CodeInvalidToken)
	})

	t.Run("期限切れの確認トークンはINVALID_TOKENになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		user, err := f.svc.Register(context.Background(), bobInput())
		if err != nil {
			t.Fatalf("Register()でエラーが発生: %v", err)
		}
		data, _ := event.DecodeData[event.VerificationRequestedData](f.notifier.last(t))

		*f.now = f.now.Add(24*time.Hour + time.Second)
		assertCode(t, f.svc.VerifyEmail(context.Background(), user.ID, data.Token), apperr.CodeInvalidToken)
	})
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()

	t.Run("リセット後は新しいパスワードでのみログインできること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		msg, err := f.svc.ForgotPassword(context.Background(), "bob@example.com")
		if err != nil {
			t.Fatalf("ForgotPassword()でエラーが発生: %v", err)
		}
		if msg != ForgotPasswordMessage {
			t.Errorf("message = %q", msg)
		}
		ev := f.notifier.last(t)
		if ev.EventType != event.TypePasswordResetRequested {
			t.Fatalf("event_type = %s", ev.EventType)
		}
		data, _ := event.DecodeData[event.PasswordResetRequestedData](ev)

		if err := f.svc.ResetPassword(context.Background(), data.Token, "n3w-p@ss"); err != nil {
			t.Fatalf("ResetPassword()でエラーが発生: %v", err)
		}
		if _, err := f.svc.Login(context.Background(), "bob", "n3w-p@ss"); err != nil {
			t.Errorf("新しいパスワードでログインできない: %v", err)
		}
		_, err = f.svc.Login(context.Background(), "bob", "p@ssw0rd")
		assertCode(t, err, apperr.CodeUnauthorized)
	})

	t.Run("未登録のメールアドレスでも同じ応答でイベントは公開されないこと", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		msg, err := f.svc.ForgotPassword(context.Background(), "nobody@example.com")
		if err != nil {
			t.Fatalf("ForgotPassword()でエラーが発生: %v", err)
		}
		if msg != ForgotPasswordMessage {
			t.Errorf("message = %q", msg)
		}
		if len(f.notifier.events) != 0 {
			t.Errorf("イベント数 = %d, want 0", len(f.notifier.events))
		}
	})

	t.Run("不正なトークンと確認トークンはINVALID_TOKENになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		assertCode(t, f.svc.ResetPassword(context.Background(), "garbage", "x"), apperr.CodeInvalidToken)

		verification, err := f.tokens.Issue(token.KindEmailVerification, "bob@example.com", "id")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		assertCode(t, f.svc.ResetPassword(context.Background(), verification, "x"), apperr.CodeInvalidToken)
	})

	t.Run("期限切れのリセットトークンはINVALID_TOKENになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		signed, err := f.tokens.Issue(token.KindPasswordReset, "bob@example.com", "")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		*f.now = f.now.Add(time.Hour + time.Second)
		assertCode(t, f.svc.ResetPassword(context.Background(), signed, "x"), apperr.CodeInvalidToken)
	})

	t.Run("ユーザーが存在しない場合はNOT_FOUNDになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		signed, err := f.tokens.Issue(token.KindPasswordReset, "ghost@example.com", "")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		assertCode(t, f.svc.ResetPassword(context.Background(), signed, "n3w-p@ss"), apperr.CodeNotFound)
	})
}

func TestProfile(t *testing.T) {
	t.Parallel()

	t.Run("プロフィールを取得できること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		user, err := f.svc.GetProfile(context.Background(), "bob@example.com")
		if err != nil {
			t.Fatalf("GetProfile()でエラーが発生: %v", err)
		}
		if user.Username != "bob" || !user.IsVerified {
			t.Errorf("プロフィールが不正: %+v", user)
		}

		_, err = f.svc.GetProfile(context.Background(), "ghost@example.com")
		assertCode(t, err, apperr.CodeNotFound)
	})

	t.Run("許可されたフィールドのみ更新されること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		updated, err := f.svc.UpdateProfile(context.Background(), "bob@example.com", map[string]any{
			"first_name":    "Robert",
			"date_of_birth": "1991-02-03",
			"email":         "hijack@example.com",
			"is_verified":   false,
		})
		if err != nil {
			t.Fatalf("UpdateProfile()でエラーが発生: %v", err)
		}
		if updated.FirstName != "Robert" || model.FormatDate(updated.DateOfBirth) != "1991-02-03" {
			t.Errorf("更新結果が不正: %+v", updated)
		}
		if updated.Email != "bob@example.com" || !updated.IsVerified {
			t.Errorf("許可されていないフィールドが更新された: %+v", updated)
		}
	})

	t.Run("変更が無い場合はNO_CHANGEになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		_, err := f.svc.UpdateProfile(context.Background(), "bob@example.com", map[string]any{"first_name": "Bob"})
		assertCode(t, err, apperr.CodeNoChange)
		_, err = f.svc.UpdateProfile(context.Background(), "bob@example.com", map[string]any{"email": "x@example.com"})
		assertCode(t, err, apperr.CodeNoChange)
		_, err = f.svc.UpdateProfile(context.Background(), "bob@example.com", map[string]any{})
		assertCode(t, err, apperr.CodeNoChange)
	})

	t.Run("値が不正な場合はBAD_REQUESTになり更新されないこと", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.registerVerified(t, bobInput())

		tests := []map[string]any{
			{"date_of_birth": "1990/01/01"},
			{"gender": "robot"},
			{"first_name": 42.0},
			{"first_name": "Robert", "date_of_birth": "bad"},
		}
		for _, fields := range tests {
			_, err := f.svc.UpdateProfile(context.Background(), "bob@example.com", fields)
			if apperr.CodeOf(err) != apperr.CodeBadRequest {
				t.Errorf("%v: err = %v, want BAD_REQUEST", fields, err)
			}
		}
		user, _ := f.svc.GetProfile(context.Background(), "bob@example.com")
		if user.FirstName != "Bob" {
			t.Errorf("不正な更新が部分的に反映された: %+v", user)
		}
	})

	t.Run("ユーザーが存在しない場合はNOT_FOUNDになること", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.svc.UpdateProfile(context.Background(), "ghost@example.com", map[string]any{"first_name": "X"})
		assertCode(t, err, apperr.CodeNotFound)
	})
}
