// Package counter はトピックの購読者数をカウントルームの購読者に配信する。
//
// カウントルームに誰もいない場合は件数を計算しても配信しない。
// 件数を要求していない接続へ件数が漏れることを防ぐ。
package counter
