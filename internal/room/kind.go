package room

import (
	"fmt"
	"strings"
)

// Kind はルームの種別を表す。
type Kind int

const (
	// KindSession は接続自身のIDをキーとするルーム。
	KindSession Kind = iota + 1
	// KindIdentity はクライアントIDまたはデバイスIDをキーとするルーム。
	KindIdentity
	// KindTopic は購読によって参加するトピックルーム。
	KindTopic
	// KindCount はトピックの購読者数のみを受け取るカウントルーム。
	KindCount
)

// String はログ出力用の種別名を返す。
func (k Kind) String() string {
	switch k {
	case KindSession:
		return "session"
	case KindIdentity:
		return "identity"
	case KindTopic:
		return "topic"
	case KindCount:
		return "count"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// KindSet はルームに存在する種別の集合を表すビットマスク。
// 同じキーに異なる種別の参加が重なる場合でも、すべての種別を保持する。
type KindSet uint8

// KindsOf は指定した種別からなる集合を返す。
func KindsOf(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// With は種別を追加した集合を返す。
func (s KindSet) With(k Kind) KindSet { return s | 1<<uint(k) }

// Has は集合が種別を含むかを返す。
func (s KindSet) Has(k Kind) bool { return s&(1<<uint(k)) != 0 }

// String はログ出力用に種別名を "|" で連結して返す。
func (s KindSet) String() string {
	var names []string
	for _, k := range []Kind{KindSession, KindIdentity, KindTopic, KindCount} {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

const (
	// TopicSeparator はトピックキーの区切り文字（"<entity>:<kind>"）。
	TopicSeparator = ":"
	// CountMarker はカウントルームを判定する部分文字列。
	CountMarker = "count"
	// countSuffix はカウントルームキーの接尾辞。
	countSuffix = TopicSeparator + CountMarker
)

// CountKey はトピックキーに対応するカウントルームのキーを返す。
func CountKey(topic string) string {
	return topic + countSuffix
}

// LeaveBroadcastEligible は切断時に件数配信の対象となるルームかを判定する。
//
// ルームにトピックとしての参加が1件以上あり、キーに区切り文字を含み、かつ
// "count" を部分文字列として含まない場合のみ対象となる。部分一致のため
// "account:balance" のような正当なトピックも対象外になる。既存クライアントとの
// 互換性のためこの挙動を維持している。種別タグで判定できる現在の構造では
// 不要な制約であり、見直し候補。
func LeaveBroadcastEligible(key string, kinds KindSet) bool {
	if !kinds.Has(KindTopic) {
		return false
	}
	return strings.Contains(key, TopicSeparator) && !strings.Contains(key, CountMarker)
}
