// Package room はネームスペース内のルームメンバーシップを管理する。
//
// ルームはキー文字列で識別される接続IDの集合であり、接続ごとに参加した種別
// （セッション・アイデンティティ・トピック・カウント）を記録する。
// 上位コンポーネント（セッション、カウント配信、通知ルーター）はすべて
// このストアを基盤として動作する。
package room
