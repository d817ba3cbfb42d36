// Package repository содержит unit тесты для PaymentRepository.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/payment-verify/pkg/outbox"
	"example.com/payment-verify/services/payment/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

// paymentRows возвращает строки таблицы payments для мока.
func paymentRows(p *domain.Payment) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "amount", "currency", "method", "status", "version", "created_at", "updated_at",
	}).AddRow(
		p.ID, p.UserID, p.Amount.Amount, p.Amount.Currency,
		string(p.Method), string(p.Status), p.Version, p.CreatedAt, p.UpdatedAt,
	)
}

// stepRows возвращает строки таблицы payment_steps для мока.
func stepRows(steps []domain.Step) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "payment_id", "name", "status", "description", "details", "created_at", "completed_at",
	})
	for _, s := range steps {
		var details []byte
		if s.Details != nil {
			details, _ = json.Marshal(s.Details)
		}
		rows.AddRow(s.ID, s.PaymentID, string(s.Name), string(s.Status), s.Description, details, s.CreatedAt, s.CompletedAt)
	}
	return rows
}

// =====================================
// Тесты Create
// =====================================

func TestPaymentRepository_Create(t *testing.T) {
	tests := []struct {
		name        string
		withEvent   bool
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name:      "успешное создание с событием",
			withEvent: true,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `payments`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `payment_steps`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `outbox`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectedErr: nil,
		},
		{
			name:      "успешное создание без события",
			withEvent: false,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `payments`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `payment_steps`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectedErr: nil,
		},
		{
			name:      "ошибка БД откатывает транзакцию",
			withEvent: true,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `payments`").
					WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectedErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			repo := NewPaymentRepository(gormDB)
			payment := domain.NewPayment("user-123", domain.Money{Amount: 5000, Currency: "EUR"}, domain.MethodCard)

			var event *outbox.Outbox
			if tt.withEvent {
				event = outbox.NewRecord("payment", payment.ID, "payment.created", "payment.events", []byte(`{"payment_id":"`+payment.ID+`"}`), nil)
			}

			tt.mockSetup(mock)

			err := repo.Create(context.Background(), payment, event)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// =====================================
// Тесты GetByID
// =====================================

func TestPaymentRepository_GetByID(t *testing.T) {
	t.Run("успешное получение с шагами", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		payment := domain.NewPayment("user-123", domain.Money{Amount: 5000, Currency: "EUR"}, domain.MethodCard)

		mock.ExpectQuery("SELECT \\* FROM `payments` WHERE id = \\?").
			WillReturnRows(paymentRows(payment))
		mock.ExpectQuery("SELECT \\* FROM `payment_steps` WHERE `payment_steps`\\.`payment_id` = \\?").
			WillReturnRows(stepRows(payment.Steps))

		repo := NewPaymentRepository(gormDB)
		got, err := repo.GetByID(context.Background(), payment.ID)

		require.NoError(t, err)
		assert.Equal(t, payment.ID, got.ID)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, int64(5000), got.Amount.Amount)
		assert.Equal(t, "EUR", got.Amount.Currency)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, domain.StepPaymentCreated, got.Steps[0].Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("не найден", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery("SELECT \\* FROM `payments` WHERE id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		repo := NewPaymentRepository(gormDB)
		got, err := repo.GetByID(context.Background(), "unknown-payment")

		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ошибка БД", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery("SELECT \\* FROM `payments` WHERE id = \\?").
			WillReturnError(sql.ErrConnDone)

		repo := NewPaymentRepository(gormDB)
		got, err := repo.GetByID(context.Background(), "payment-123")

		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты ListByUserID
// =====================================

func TestPaymentRepository_ListByUserID(t *testing.T) {
	t.Run("список с пагинацией", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		payment := domain.NewPayment("user-123", domain.Money{Amount: 5000, Currency: "EUR"}, domain.MethodCard)

		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `payments` WHERE user_id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
		mock.ExpectQuery("SELECT \\* FROM `payments` WHERE user_id = \\?").
			WillReturnRows(paymentRows(payment))
		mock.ExpectQuery("SELECT \\* FROM `payment_steps` WHERE `payment_steps`\\.`payment_id` = \\?").
			WillReturnRows(stepRows(payment.Steps))

		repo := NewPaymentRepository(gormDB)
		payments, total, err := repo.ListByUserID(context.Background(), "user-123", 0, 10)

		require.NoError(t, err)
		assert.Equal(t, int64(7), total)
		require.Len(t, payments, 1)
		assert.Equal(t, payment.ID, payments[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("пустой список", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `payments` WHERE user_id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT \\* FROM `payments` WHERE user_id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		repo := NewPaymentRepository(gormDB)
		payments, total, err := repo.ListByUserID(context.Background(), "user-456", 0, 10)

		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
		assert.Empty(t, payments)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты UpdateTransition
// =====================================

func TestPaymentRepository_UpdateTransition(t *testing.T) {
	t.Run("успешный переход инкрементирует версию", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		payment := domain.NewPayment("user-123", domain.Money{Amount: 5000, Currency: "EUR"}, domain.MethodCard)
		require.NoError(t, payment.TransitionTo(domain.RoleDepositor, domain.StatusProcessing))
		event := outbox.NewRecord("payment", payment.ID, "payment.status_changed", "payment.events", []byte(`{"status":"processing"}`), nil)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payments` SET").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), payment.ID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// Завершённый шаг payment_created обновляется
		mock.ExpectExec("UPDATE `payment_steps` SET").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// Новый шаг payment_processing ещё не существует: UPDATE не находит
		// строку, GORM выполняет INSERT
		mock.ExpectExec("UPDATE `payment_steps` SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO `payment_steps`").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO `outbox`").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		repo := NewPaymentRepository(gormDB)
		err := repo.UpdateTransition(context.Background(), payment, 1, event)

		require.NoError(t, err)
		assert.Equal(t, 2, payment.Version, "версия инкрементируется после успешного CAS")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("конкурентное обновление", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		payment := domain.NewPayment("user-123", domain.Money{Amount: 5000, Currency: "EUR"}, domain.MethodCard)
		require.NoError(t, payment.TransitionTo(domain.RoleDepositor, domain.StatusProcessing))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payments` SET").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), payment.ID, 1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		repo := NewPaymentRepository(gormDB)
		err := repo.UpdateTransition(context.Background(), payment, 1, nil)

		assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
		assert.Equal(t, 1, payment.Version, "версия не меняется при проигрыше CAS")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ошибка БД откатывает транзакцию", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		payment := domain.NewPayment("user-123", domain.Money{Amount: 5000, Currency: "EUR"}, domain.MethodCard)
		require.NoError(t, payment.TransitionTo(domain.RoleDepositor, domain.StatusProcessing))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payments` SET").
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		repo := NewPaymentRepository(gormDB)
		err := repo.UpdateTransition(context.Background(), payment, 1, nil)

		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты конвертации Domain <-> Model
// =====================================

func TestPaymentModel_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	completed := now.Add(time.Minute)

	payment := &domain.Payment{
		ID:     "payment-uuid",
		UserID: "user-uuid",
		Amount: domain.Money{Amount: 12345, Currency: "USD"},
		Method: domain.MethodCard,
		Status: domain.StatusWaiting3DS,
		Steps: []domain.Step{
			{
				ID:          "step-1",
				PaymentID:   "payment-uuid",
				Name:        domain.StepPaymentCreated,
				Status:      domain.StepStatusCompleted,
				Description: "Payment created",
				Details:     map[string]string{"card": "**** **** **** 4242"},
				CreatedAt:   now,
				CompletedAt: &completed,
			},
		},
		Version:   3,
		CreatedAt: now,
		UpdatedAt: now,
	}

	got := paymentModelFromDomain(payment).toDomain()

	assert.Equal(t, payment.ID, got.ID)
	assert.Equal(t, payment.UserID, got.UserID)
	assert.Equal(t, payment.Amount, got.Amount)
	assert.Equal(t, payment.Method, got.Method)
	assert.Equal(t, payment.Status, got.Status)
	assert.Equal(t, payment.Version, got.Version)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, payment.Steps[0].Name, got.Steps[0].Name)
	assert.Equal(t, payment.Steps[0].Details, got.Steps[0].Details)
	assert.Equal(t, payment.Steps[0].CompletedAt.Unix(), got.Steps[0].CompletedAt.Unix())
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "payments", PaymentModel{}.TableName())
	assert.Equal(t, "payment_steps", PaymentStepModel{}.TableName())
}
