// Package delivery はルームへの配信プリミティブ（emit）を提供する。
//
// カウント配信エンジンと通知ルーターは Emitter インターフェースだけに依存し、
// 単一プロセス内での配信かノード間での配信かはこのパッケージと bus パッケージの
// 実装に閉じ込める。
package delivery
