package near

import "regexp"

// accountIDPattern はNEARアカウントIDの文法。
// 小文字英数字を区切り文字（- _）とドットで連結したもの。暗黙アカウント（64桁hex）も含む。
var accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)

const (
	minAccountIDLength = 2
	maxAccountIDLength = 64
)

// ValidAccountID はNEARアカウントIDとして妥当かどうかを返す。
func ValidAccountID(accountID string) bool {
	if len(accountID) < minAccountIDLength || len(accountID) > maxAccountIDLength {
		return false
	}
	return accountIDPattern.MatchString(accountID)
}
