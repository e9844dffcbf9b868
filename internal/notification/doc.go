// Package notification はアカウントイベントに応じたメール通知を非同期に配信する。
//
// Dispatcher は受け取ったイベントを有限長のキューに積み、固定数のワーカーが
// 本文を生成して Mailer で送信する。キューが満杯の場合は呼び出し元を待たせず
// イベントを破棄してログに記録する。送信の失敗は呼び出し元の処理に影響しない。
package notification
