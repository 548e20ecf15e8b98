// Package validation はユーザー入力の検証ルールを提供する。
// 検証はネットワーク呼び出しの前に行い、エラーメッセージはそのまま利用者に表示できるスペイン語で返す。
package validation

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	// NicknameMaxLength はニックネームの最大文字数（ルーン数）。
	NicknameMaxLength = 30
	// ListingTitleMinLength は出品タイトルの最小文字数。
	ListingTitleMinLength = 3
	// ListingTitleMaxLength は出品タイトルの最大文字数。
	ListingTitleMaxLength = 80
	// SubjectMaxLength はメール件名の最大文字数。
	SubjectMaxLength = 200
	// MaxRecipients は1通あたりの最大宛先数。
	MaxRecipients = 50

	// placeholderNickname は登録直後に自動設定されるニックネーム。ユーザーが選んだ名前としては受け付けない。
	placeholderNickname = "sin nombre"
)

var postcodePattern = regexp.MustCompile(`^[0-9]{4,5}$`)

var (
	// Postcode は郵便番号（ASCII数字4〜5桁）のルール。
	Postcode = validation.Match(postcodePattern).Error("El código postal debe tener 4 o 5 dígitos")

	// NotPlaceholderNickname はプレースホルダーのニックネームを拒否するルール。
	NotPlaceholderNickname = validation.By(func(value any) error {
		s, _ := value.(string)
		if strings.EqualFold(strings.TrimSpace(s), placeholderNickname) {
			return validation.NewError("validation_nickname_placeholder", "Elige un nombre de usuario distinto de «Sin nombre»")
		}
		return nil
	})

	// Email はメールアドレス形式のルール。
	Email = is.EmailFormat.Error("Dirección de correo no válida")
)

// NicknameRules はニックネームのルール一式を返す。値はトリム済みであること。
func NicknameRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("El nombre de usuario es obligatorio"),
		validation.RuneLength(1, NicknameMaxLength).Error("El nombre de usuario no puede superar los 30 caracteres"),
		NotPlaceholderNickname,
	}
}

// ValidateNickname はニックネームを検証する。前後の空白は除いて判定する。
func ValidateNickname(nickname string) error {
	return validation.Validate(strings.TrimSpace(nickname), NicknameRules()...)
}

// ValidatePostcode は郵便番号を検証する。
func ValidatePostcode(postcode string) error {
	return validation.Validate(postcode,
		validation.Required.Error("El código postal es obligatorio"),
		Postcode,
	)
}

// ValidateListingTitle は出品タイトルを検証する。
func ValidateListingTitle(title string) error {
	return validation.Validate(strings.TrimSpace(title),
		validation.Required.Error("El título es obligatorio"),
		validation.RuneLength(ListingTitleMinLength, ListingTitleMaxLength).Error("El título debe tener entre 3 y 80 caracteres"),
	)
}

// ValidateSubject はメール件名を検証する。
func ValidateSubject(subject string) error {
	return validation.Validate(strings.TrimSpace(subject),
		validation.Required.Error("El asunto es obligatorio"),
		validation.RuneLength(1, SubjectMaxLength).Error("El asunto no puede superar los 200 caracteres"),
	)
}

// ValidateRecipients は宛先リストを検証する。1件以上50件以下で、すべて正しい形式であること。
func ValidateRecipients(recipients []string) error {
	return validation.Validate(recipients,
		validation.Required.Error("Indica al menos un destinatario"),
		validation.Length(1, MaxRecipients).Error("No se pueden indicar más de 50 destinatarios"),
		validation.Each(validation.Required.Error("Destinatario vacío"), Email),
	)
}

// FieldErrors は検証エラーをフィールド名ごとのメッセージに変換する。
// フィールド単位でないエラーは"error"キーにまとめる。
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, e := range errs {
			out[field] = e.Error()
		}
		return out
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

// IsValidationError はerrが入力検証のエラーかどうかを返す。
func IsValidationError(err error) bool {
	var errs validation.Errors
	var verr validation.Error
	return errors.As(err, &errs) || errors.As(err, &verr)
}
