// Package hub は接続セッションのライフサイクルを管理する。
//
// 各セッションは Connecting → Active → Disconnecting → Closed の状態を持ち、
// 自身のルームメンバーシップだけを変更する。トピック参加と切断の後には
// counter パッケージのフックを呼び出して購読者数を配信する。
//
// 1つの接続から届くイベントはトランスポート側で逐次処理される前提で、
// Hubはそれらを並べ替えない。
package hub
