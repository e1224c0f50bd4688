package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ErrLessonLocked")
	if got != "This lesson is locked. Complete the previous lesson first." {
		t.Errorf("T(ErrLessonLocked) = %q", got)
	}

	got = T(ctx, "ErrPersistence")
	if got != "Could not save progress." {
		t.Errorf("T(ErrPersistence) = %q, want 'Could not save progress.'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "ErrPersistence")
	if got != "Не удалось сохранить прогресс." {
		t.Errorf("T(ErrPersistence) = %q, want 'Не удалось сохранить прогресс.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "LessonsCompleted", 1)
	if got1 != "1 lesson completed." {
		t.Errorf("Tp(LessonsCompleted, 1) = %q, want '1 lesson completed.'", got1)
	}

	got5 := Tp(ctx, "LessonsCompleted", 5)
	if got5 != "5 lessons completed." {
		t.Errorf("Tp(LessonsCompleted, 5) = %q, want '5 lessons completed.'", got5)
	}

	ru := initLang(t, "ru")
	if got := Tp(ru, "LessonsCompleted", 5); got != "5 уроков завершено." {
		t.Errorf("Tp(ru, LessonsCompleted, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "QuizFailed", map[string]any{"Score": 60, "PassingScore": 75})
	if got != "You scored 60%. 75% is needed to pass." {
		t.Errorf("Td(QuizFailed) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestNegotiate(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tests := []struct {
		accept string
		want   string
	}{
		{"", "en"},
		{"ru-RU,ru;q=0.9,en;q=0.8", "ru"},
		{"de-DE", "en"},
		{"fr, ru;q=0.5", "ru"},
		{"not a header;;", "en"},
	}
	for _, tt := range tests {
		tag := Negotiate(tt.accept)
		base, _ := tag.Base()
		if base.String() != tt.want {
			t.Errorf("Negotiate(%q) = %v, want %s", tt.accept, tag, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var gotLang, gotMsg string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = Lang(r.Context())
		gotMsg = T(r.Context(), "LessonCompleted")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotLang != "ru" || gotMsg != "Урок завершён." {
		t.Errorf("Accept-Language ru: lang=%q msg=%q", gotLang, gotMsg)
	}

	req = httptest.NewRequest(http.MethodGet, "/?lang=en", nil)
	req.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotLang != "en" || gotMsg != "Lesson completed." {
		t.Errorf("lang=en override: lang=%q msg=%q", gotLang, gotMsg)
	}
}
