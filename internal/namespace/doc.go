// Package namespace はアプリケーションIDごとに分離されたメンバーシップ空間を提供する。
//
// 同じアプリケーションIDに対しては常に同じNamespaceを返し、異なるアプリケーション間で
// ルームが共有されることはない。Namespaceは最初の接続または通知リクエストで
// 遅延生成され、プロセスの生存期間中は破棄されない。
package namespace
