// Package identity はアカウントのライフサイクル（登録、ログイン、メール確認、
// パスワードリセット、プロフィール参照・更新）を実装する。
//
// 失敗はすべて apperr.Error として返し、HTTPステータスへの変換は呼び出し側で行う。
// メール送信はイベントとして Notifier に渡すだけで、その成否は結果に影響しない。
package identity

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/nao1215/bookshop/internal/model"
	"github.com/nao1215/bookshop/internal/store"
	"github.com/nao1215/bookshop/pkg/apperr"
	"github.com/nao1215/bookshop/pkg/event"
	"github.com/nao1215/bookshop/pkg/password"
	"github.com/nao1215/bookshop/pkg/token"
)

// ForgotPasswordMessage はメールアドレスの登録有無にかかわらず返す応答。
const ForgotPasswordMessage = "メールアドレスが登録されている場合、パスワード再設定用のリンクを送信しました"

// TokenTypeBearer はアクセストークンの種別。
const TokenTypeBearer = "bearer"

// Notifier はアカウントイベントを非同期の通知処理に渡す。
type Notifier interface {
	// Publish はイベントを受け付けた場合にtrueを返す。呼び出し元をブロックしない。
	Publish(ev *event.Event) bool
}

// Service はアカウント管理のワークフロー。
type Service struct {
	store     store.Store
	hasher    password.Hasher
	tokens    *token.Manager
	notifier  Notifier
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

// NewService はServiceを生成する。
func NewService(st store.Store, hasher password.Hasher, tokens *token.Manager, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		hasher:    hasher,
		tokens:    tokens,
		notifier:  notifier,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Gender      string
	DateOfBirth string
}

// Register はユーザーを未確認状態で登録し、確認メールの送信を依頼する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	gender := model.Gender(in.Gender)
	if !gender.Valid() {
		return nil, apperr.New(apperr.CodeBadRequest, "性別はmale、female、otherのいずれかを指定してください")
	}
	dob, err := model.ParseDate(in.DateOfBirth)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBadRequest, err.Error(), err)
	}
	firstName, err := s.cleanName(in.FirstName)
	if err != nil {
		return nil, err
	}
	lastName, err := s.cleanName(in.LastName)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if exists {
		return nil, errConflict()
	}

	digest, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Insert(ctx, &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		FirstName:    firstName,
		LastName:     lastName,
		Gender:       gender,
		DateOfBirth:  dob,
		IsActive:     true,
		IsVerified:   false,
		Provider:     model.ProviderLocal,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, errConflict()
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.requestVerification(user)
	s.logger.Info("ユーザーを登録しました", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// requestVerification は確認トークンを発行して通知を依頼する。失敗してもログのみ。
func (s *Service) requestVerification(user *model.User) {
	signed, err := s.tokens.Issue(token.KindEmailVerification, user.Email, user.ID)
	if err != nil {
		s.logger.Error("確認トークンの発行に失敗しました", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	s.publish(user.ID, event.TypeVerificationRequested, event.VerificationRequestedData{
		Email:  user.Email,
		UserID: user.ID,
		Token:  signed,
	})
}

// LoginResult はログイン成功時の応答。
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login はメールアドレスまたはユーザー名とパスワードで認証し、アクセストークンを発行する。
// identifierに"@"が含まれる場合はメールアドレスとして扱う。
func (s *Service) Login(ctx context.Context, identifier, plain string) (*LoginResult, error) {
	var (
		user *model.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.store.FindByEmail(ctx, identifier)
	} else {
		user, err = s.store.FindByUsername(ctx, identifier)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, errInvalidCredentials()
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !s.hasher.Verify(plain, user.PasswordHash) {
		return nil, errInvalidCredentials()
	}
	if !user.IsVerified {
		return nil, apperr.New(apperr.CodeForbidden, "メールアドレスが確認されていません")
	}

	signed, err := s.tokens.Issue(token.KindAccess, user.Email, "")
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("ログインしました", zap.String("user_id", user.ID))
	return &LoginResult{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(token.AccessTTL.Seconds()),
	}, nil
}

// VerifyEmail は確認トークンを検証してユーザーを確認済みにする。
// 既に確認済みの場合も変更件数が0となるため NotFound を返す。
func (s *Service) VerifyEmail(ctx context.Context, userID, tokenString string) error {
	claims, err := s.tokens.Verify(token.KindEmailVerification, tokenString)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidToken, "確認トークンが無効です", err)
	}
	if claims.Email() == "" || claims.UserID == "" {
		return apperr.New(apperr.CodeInvalidToken, "確認トークンが無効です")
	}
	if claims.UserID != userID {
		return apperr.New(apperr.CodeInvalidToken, "確認リンクが無効です")
	}

	verified := true
	n, err := s.store.UpdateByID(ctx, userID, model.UserPatch{IsVerified: &verified})
	if err != nil {
		return apperr.Internal(err)
	}
	if n == 0 {
		return errUserNotFound()
	}
	s.logger.Info("メールアドレスを確認しました", zap.String("user_id", userID))
	return nil
}

// ForgotPassword はユーザーが存在する場合にパスワードリセットメールの送信を依頼する。
// 登録有無を推測させないため、応答は常に同じメッセージになる。
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ForgotPasswordMessage, nil
	}
	if err != nil {
		return "", apperr.Internal(err)
	}

	signed, err := s.tokens.Issue(token.KindPasswordReset, user.Email, "")
	if err != nil {
		return "", apperr.Internal(err)
	}
	s.publish(user.ID, event.TypePasswordResetRequested, event.PasswordResetRequestedData{
		Email: user.Email,
		Token: signed,
	})
	return ForgotPasswordMessage, nil
}

// ResetPassword はリセットトークンを検証してパスワードを置き換える。
func (s *Service) ResetPassword(ctx context.Context, tokenString, newPassword string) error {
	claims, err := s.tokens.Verify(token.KindPasswordReset, tokenString)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidToken, "トークンが無効です", err)
	}
	email := claims.Email()
	if email == "" {
		return apperr.New(apperr.CodeInvalidToken, "トークンが無効です")
	}

	digest, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	n, err := s.store.UpdateByEmail(ctx, email, model.UserPatch{PasswordHash: &digest})
	if err != nil {
		return apperr.Internal(err)
	}
	if n == 0 {
		return errUserNotFound()
	}
	s.logger.Info("パスワードを再設定しました", zap.String("email", email))
	return nil
}

// GetProfile はアクセストークンの主体（メールアドレス）に対応するユーザーを返す。
func (s *Service) GetProfile(ctx context.Context, email string) (*model.User, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUserNotFound()
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return user, nil
}

// UpdateProfile はプロフィールを部分更新する。
// 更新できるのは first_name、last_name、gender、date_of_birth のみで、それ以外のキーは無視する。
// 値はすべて文字列でなければならない。
func (s *Service) UpdateProfile(ctx context.Context, email string, fields map[string]any) (*model.User, error) {
	user, err := s.GetProfile(ctx, email)
	if err != nil {
		return nil, err
	}

	patch, err := s.profilePatch(fields)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, errNoChange()
	}

	n, err := s.store.UpdateByID(ctx, user.ID, patch)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if n == 0 {
		return nil, errNoChange()
	}

	updated, err := s.store.FindByID(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("プロフィールを更新しました", zap.String("user_id", user.ID))
	return updated, nil
}

// profilePatch は許可されたキーのみをパッチに変換する。
func (s *Service) profilePatch(fields map[string]any) (model.UserPatch, error) {
	var patch model.UserPatch
	for key, raw := range fields {
		switch key {
		case "first_name", "last_name", "gender", "date_of_birth":
		default:
			continue
		}

		value, ok := raw.(string)
		if !ok {
			return patch, apperr.New(apperr.CodeBadRequest, key+"は文字列で指定してください")
		}

		switch key {
		case "first_name":
			name, err := s.cleanName(value)
			if err != nil {
				return patch, err
			}
			patch.FirstName = &name
		case "last_name":
			name, err := s.cleanName(value)
			if err != nil {
				return patch, err
			}
			patch.LastName = &name
		case "gender":
			g := model.Gender(value)
			if !g.Valid() {
				return patch, apperr.New(apperr.CodeBadRequest, "性別はmale、female、otherのいずれかを指定してください")
			}
			patch.Gender = &g
		case "date_of_birth":
			d, err := model.ParseDate(value)
			if err != nil {
				return patch, apperr.Wrap(apperr.CodeBadRequest, err.Error(), err)
			}
			patch.DateOfBirth = &d
		}
	}
	return patch, nil
}

// cleanName はHTMLタグを除去した名前を返す。除去後に空になる場合は不正な入力とする。
func (s *Service) cleanName(raw string) (string, error) {
	name := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(raw)))
	if name == "" {
		return "", apperr.New(apperr.CodeBadRequest, "名前を入力してください")
	}
	return name, nil
}

func (s *Service) hashPassword(plain string) (string, error) {
	digest, err := s.hasher.Hash(plain)
	if errors.Is(err, password.ErrTooLong) {
		return "", apperr.Wrap(apperr.CodeBadRequest, err.Error(), err)
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return digest, nil
}

// publish はイベントを生成して通知処理に渡す。失敗はログのみ。
func (s *Service) publish(aggregateID string, eventType event.Type, data any) {
	ev, err := event.New(aggregateID, event.AggregateTypeUser, eventType, data)
	if err != nil {
		s.logger.Error("イベントの生成に失敗しました", zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}
	if !s.notifier.Publish(ev) {
		s.logger.Warn("通知イベントが受け付けられませんでした",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(eventType)),
		)
	}
}

func errConflict() error {
	return apperr.New(apperr.CodeConflict, "ユーザー名またはメールアドレスは既に登録されています")
}

func errInvalidCredentials() error {
	return apperr.New(apperr.CodeUnauthorized, "認証情報が正しくありません")
}

func errUserNotFound() error {
	return apperr.New(apperr.CodeNotFound, "ユーザーが見つかりません")
}

func errNoChange() error {
	return apperr.New(apperr.CodeNoChange, "プロフィールに変更はありません")
}
