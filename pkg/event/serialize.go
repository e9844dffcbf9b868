package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New はアカウントイベントを生成する。
// identityワークフローが登録やパスワードリセットの要求時に呼び出し、
// 生成したイベントはnotificationディスパッチャへ渡されてメール送信に使われる。
// dataには VerificationRequestedData などイベント種別に対応する構造体を渡す。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	if !eventType.Known() {
		return nil, fmt.Errorf("未対応のイベント種別です: %q", eventType)
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%sイベントデータのシリアライズに失敗: %w", eventType, err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのデータをメール本文の生成に使う構造体へ復元する。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%sイベントデータのデシリアライズに失敗: %w", e.EventType, err)
	}
	return &data, nil
}

// Known は通知処理が扱えるイベント種別かを返す。
func (t Type) Known() bool {
	switch t {
	case TypeVerificationRequested, TypePasswordResetRequested:
		return true
	default:
		return false
	}
}
