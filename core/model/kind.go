// Package model はエンジン全体で共有するデータモデルを定義する。
//
// 学習器は TrainedModel を構築するだけで、正規の集合はレジストリが所有する。
// 予測ディスパッチャは読み取りのみを行う。
package model

import (
	"strings"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// Kind はモデルの種類を表す閉じた列挙型
//
// Kind で分岐する箇所は必ず 3 種類すべてを扱い、default で
// エラーを返すこと。新しい種類を追加した場合は学習側と予測側の両方を更新する。
type Kind string

const (
	// Linear は単一特徴量の最小二乗回帰
	Linear Kind = "linear"
	// Multivariate は正規方程式による多変量回帰
	Multivariate Kind = "multivariate"
	// NeuralNetwork は全結合ニューラルネットワーク
	NeuralNetwork Kind = "neural_network"
)

// Kinds は既知のすべての種類を返す
func Kinds() []Kind {
	return []Kind{Linear, Multivariate, NeuralNetwork}
}

// Valid は k が既知の種類かどうかを返す
func (k Kind) Valid() bool {
	switch k {
	case Linear, Multivariate, NeuralNetwork:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind は文字列を Kind に変換する。"neural-network" や大文字も受け付ける。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", errors.NewValidationError("kind", "unsupported model kind", s)
	}
	return k, nil
}
