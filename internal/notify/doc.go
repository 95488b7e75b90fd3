// Package notify は1件の通知リクエストを複数の配信先へファンアウトする。
//
// 配信先はクライアントID（users）、デバイスID（devices）、トピック（eventTopics）の
// 3種類で、すべての配信先を並行に処理する。ある配信先での失敗は他の配信先に
// 影響せず、結果にそれぞれ記録される。ルーターはメンバーシップを変更しない。
package notify
