// Package bus はRedis Pub/Subを使ってルームへの配信を複数ノードに中継する。
//
// 各ノードは配信をまずローカルの接続へ行い、同じ内容をRedisのチャネルに publish する。
// 他ノードは購読したエンベロープを自ノードのローカル配信に流す。自ノードが
// publish したエンベロープはノードIDで判別して無視する。順序保証は無く、
// 少なくとも1回の配信を前提とする。
package bus
