package pollagent

import (
	"net/url"
	"strconv"
)

// Статусы платежа, как их отдаёт status endpoint. Дублируют серверные
// константы: клиентская библиотека общается с сервисом только по HTTP
// и завязана на wire-контракт, а не на доменные типы.
const (
	StatusPending           = "pending"
	StatusProcessing        = "processing"
	StatusWaiting3DS        = "waiting_3ds"
	StatusRequiresNewCard   = "requires_new_card"
	StatusRequiresBankLogin = "requires_bank_login"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusCancelled         = "cancelled"
)

// Пути страниц верификации.
const (
	PageChecking  = "/payments/checking"   // Холдинг-страница "проверяем платёж"
	Page3DS       = "/payments/3ds"        // Ввод кода 3-D Secure
	PageNewCard   = "/payments/new-card"   // Ввод другой карты после отклонения
	PageBankLogin = "/payments/bank-login" // Вход в интернет-банк
	PageOverview  = "/payments"            // Обзор платежей (терминальные статусы)
)

// Route — целевая страница навигации с параметрами контекста платежа.
// Параметры payment_id, amount, currency переживают перезагрузку страницы.
type Route struct {
	Path  string
	Query url.Values
}

// String возвращает путь с query-параметрами для навигации.
func (r Route) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// routeForStatus возвращает страницу, соответствующую статусу платежа.
// Каждый статус-шаг отображается 1:1 на свою страницу; терминальные
// статусы ведут на обзор платежей.
func routeForStatus(snap *Snapshot) Route {
	var path string
	switch snap.Status {
	case StatusWaiting3DS:
		path = Page3DS
	case StatusRequiresNewCard:
		path = PageNewCard
	case StatusRequiresBankLogin:
		path = PageBankLogin
	case StatusCompleted, StatusFailed, StatusCancelled:
		path = PageOverview
	default:
		// pending и processing живут на холдинг-странице
		path = PageChecking
	}

	query := url.Values{}
	query.Set("payment_id", snap.PaymentID)
	query.Set("amount", formatAmount(snap.Amount))
	query.Set("currency", snap.Currency)

	return Route{Path: path, Query: query}
}

// formatAmount переводит сумму в минорных единицах в строку query-параметра.
func formatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}

// isTerminal возвращает true для финальных статусов.
func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// isActionRequired возвращает true для статусов, требующих действия вкладчика.
func isActionRequired(status string) bool {
	return status == StatusWaiting3DS || status == StatusRequiresNewCard || status == StatusRequiresBankLogin
}
