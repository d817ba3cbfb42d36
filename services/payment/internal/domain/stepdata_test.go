package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validCard возвращает валидные данные карты для тестов.
func validCard() CardData {
	return CardData{
		Number: "4242 4242 4242 4242",
		Holder: "MAX MUSTERMANN",
		Expiry: "12/30",
		CVV:    "123",
	}
}

// =====================================
// Тесты CardData.Validate
// =====================================

func TestCardData_Validate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*CardData)
		expectedField string // пустая строка = ошибки нет
	}{
		{"валидные данные", func(c *CardData) {}, ""},
		{"номер с пробелами валиден", func(c *CardData) { c.Number = "4242 4242 4242 4242" }, ""},
		{"13 цифр валидно", func(c *CardData) { c.Number = "4242424242424" }, ""},
		{"19 цифр валидно", func(c *CardData) { c.Number = "4242424242424242424" }, ""},
		{"CVV из 4 цифр валиден", func(c *CardData) { c.CVV = "1234" }, ""},

		{"номер слишком короткий", func(c *CardData) { c.Number = "424242424242" }, "card_number"},
		{"номер слишком длинный", func(c *CardData) { c.Number = "42424242424242424242" }, "card_number"},
		{"номер с буквами", func(c *CardData) { c.Number = "4242abcd42424242" }, "card_number"},
		{"пустой номер", func(c *CardData) { c.Number = "" }, "card_number"},

		{"держатель из одного символа", func(c *CardData) { c.Holder = "A" }, "card_holder"},
		{"держатель только пробелы", func(c *CardData) { c.Holder = "   " }, "card_holder"},

		{"срок без слэша", func(c *CardData) { c.Expiry = "1230" }, "expiry_date"},
		{"месяц 13", func(c *CardData) { c.Expiry = "13/30" }, "expiry_date"},
		{"месяц 00", func(c *CardData) { c.Expiry = "00/30" }, "expiry_date"},
		{"карта просрочена", func(c *CardData) { c.Expiry = "01/20" }, "expiry_date"},
		{"срок слишком далеко", func(c *CardData) { c.Expiry = "12/99" }, "expiry_date"},

		{"CVV из 2 цифр", func(c *CardData) { c.CVV = "12" }, "cvv"},
		{"CVV из 5 цифр", func(c *CardData) { c.CVV = "12345" }, "cvv"},
		{"CVV с буквами", func(c *CardData) { c.CVV = "12a" }, "cvv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := validCard()
			tt.mutate(&card)

			err := card.Validate()
			if tt.expectedField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			ve, ok := AsValidationError(err)
			require.True(t, ok, "ошибка должна быть ValidationError")
			assert.Equal(t, tt.expectedField, ve.Field)
		})
	}
}

func TestValidateExpiry_CurrentMonth(t *testing.T) {
	// Карта действует до конца указанного месяца включительно
	now := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, validateExpiry("08/26", now), "текущий месяц ещё валиден")
	assert.Error(t, validateExpiry("07/26", now), "прошлый месяц просрочен")
}

func TestCardData_MaskedNumber(t *testing.T) {
	card := validCard()
	assert.Equal(t, "**** **** **** 4242", card.MaskedNumber())

	short := CardData{Number: "42"}
	assert.Equal(t, "****", short.MaskedNumber())
}

// =====================================
// Тесты ThreeDSData.Validate
// =====================================

func TestThreeDSData_Validate(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"3 цифры", "123", false},
		{"6 цифр", "123456", false},
		{"код с пробелами по краям", " 1234 ", false},
		{"2 цифры", "12", true},
		{"7 цифр", "1234567", true},
		{"буквы", "12a456", true},
		{"пустой", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&ThreeDSData{Code: tt.code}).Validate()
			if tt.wantErr {
				require.Error(t, err)
				ve, ok := AsValidationError(err)
				require.True(t, ok)
				assert.Equal(t, "code", ve.Field)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =====================================
// Тесты BankCredentialsData.Validate
// =====================================

func TestBankCredentialsData_Validate(t *testing.T) {
	valid := BankCredentialsData{
		BankID:   "sparkasse",
		Login:    "max.mustermann",
		Password: "secret",
	}

	t.Run("валидные данные без SMS", func(t *testing.T) {
		d := valid
		assert.NoError(t, d.Validate())
	})

	t.Run("валидные данные с SMS", func(t *testing.T) {
		d := valid
		d.SMSCode = "123456"
		assert.NoError(t, d.Validate())
	})

	tests := []struct {
		name          string
		mutate        func(*BankCredentialsData)
		expectedField string
	}{
		{"пустой банк", func(d *BankCredentialsData) { d.BankID = " " }, "bank_id"},
		{"короткий логин", func(d *BankCredentialsData) { d.Login = "ab" }, "login"},
		{"короткий пароль", func(d *BankCredentialsData) { d.Password = "abc" }, "password"},
		{"SMS из 3 цифр", func(d *BankCredentialsData) { d.SMSCode = "123" }, "sms_code"},
		{"SMS из 7 цифр", func(d *BankCredentialsData) { d.SMSCode = "1234567" }, "sms_code"},
		{"SMS с буквами", func(d *BankCredentialsData) { d.SMSCode = "12ab56" }, "sms_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)

			err := d.Validate()
			require.Error(t, err)
			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.expectedField, ve.Field)
		})
	}
}

// =====================================
// Тесты BankTransferData.Validate
// =====================================

func TestBankTransferData_Validate(t *testing.T) {
	valid := BankTransferData{
		BankName:      "Sparkasse",
		AccountHolder: "Max Mustermann",
		AccountNumber: "12345678",
		SortCode:      "123456",
	}

	t.Run("валидные данные", func(t *testing.T) {
		d := valid
		assert.NoError(t, d.Validate())
	})

	tests := []struct {
		name          string
		mutate        func(*BankTransferData)
		expectedField string
	}{
		{"пустое название банка", func(d *BankTransferData) { d.BankName = "" }, "bank_name"},
		{"короткое имя владельца", func(d *BankTransferData) { d.AccountHolder = "M" }, "account_holder"},
		{"короткий номер счёта", func(d *BankTransferData) { d.AccountNumber = "12345" }, "account_number"},
		{"номер счёта с буквами", func(d *BankTransferData) { d.AccountNumber = "1234abcd" }, "account_number"},
		{"sort code из 5 цифр", func(d *BankTransferData) { d.SortCode = "12345" }, "sort_code"},
		{"sort code из 7 цифр", func(d *BankTransferData) { d.SortCode = "1234567" }, "sort_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)

			err := d.Validate()
			require.Error(t, err)
			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.expectedField, ve.Field)
		})
	}
}

// =====================================
// Тесты StepKind.ExpectedStatus
// =====================================

func TestStepKind_ExpectedStatus(t *testing.T) {
	tests := []struct {
		kind     StepKind
		expected PaymentStatus
	}{
		{StepKindCard, StatusPending},
		{StepKindBankTransfer, StatusPending},
		{StepKind3DS, StatusWaiting3DS},
		{StepKindNewCard, StatusRequiresNewCard},
		{StepKindBankCredentials, StatusRequiresBankLogin},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			status, ok := tt.kind.ExpectedStatus()
			require.True(t, ok)
			assert.Equal(t, tt.expected, status)
		})
	}

	_, ok := StepKind("unknown").ExpectedStatus()
	assert.False(t, ok)
}
