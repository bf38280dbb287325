package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func templateTestList() *MailingList {
	desc := "Discussion about everything"
	return &MailingList{
		ID:          1,
		Name:        "General",
		ListID:      "general",
		Address:     "general@lists.example.com",
		Description: &desc,
	}
}

func TestDefaultTemplatesExist(t *testing.T) {
	names := []string{
		TemplateGenericHelp,
		TemplateGenericFailure,
		TemplateGenericSuccess,
		TemplateSubscriptionConfirmation,
		TemplateUnsubscriptionConfirm,
		TemplateSubscriptionNoticeOwner,
		TemplateAdminNotice,
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			tmpl := DefaultTemplate(name)
			require.NotNil(t, tmpl)
			assert.Equal(t, name, tmpl.Name)
			assert.NotEmpty(t, tmpl.Body)
		})
	}

	assert.Nil(t, DefaultTemplate("no-such-template"))
}

func TestDefaultTemplatesRender(t *testing.T) {
	list := templateTestList()

	for _, name := range []string{
		TemplateGenericHelp,
		TemplateGenericFailure,
		TemplateGenericSuccess,
		TemplateSubscriptionConfirmation,
		TemplateUnsubscriptionConfirm,
		TemplateSubscriptionNoticeOwner,
		TemplateAdminNotice,
	} {
		t.Run(name, func(t *testing.T) {
			tmpl := DefaultTemplate(name)
			subject, body, err := tmpl.Render(TemplateContext{
				List:    list,
				Details: "some details",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, subject)
			assert.NotEmpty(t, body)
		})
	}
}

func TestRenderSubscriptionConfirmation(t *testing.T) {
	tmpl := DefaultTemplate(TemplateSubscriptionConfirmation)

	subject, _, err := tmpl.Render(TemplateContext{List: templateTestList()})
	require.NoError(t, err)
	assert.Equal(t, "[general] You have successfully subscribed to General.", subject)
}

func TestRenderSubjectOverride(t *testing.T) {
	tmpl := DefaultTemplate(TemplateGenericFailure)

	subject, body, err := tmpl.Render(TemplateContext{
		List:    templateTestList(),
		Subject: "Your posting is awaiting moderation",
		Details: "Only subscribers can post to this list.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Your posting is awaiting moderation", subject)
	assert.Equal(t, "Only subscribers can post to this list.", body)
}

func TestRenderInvalidTemplate(t *testing.T) {
	tmpl := &Template{
		Name: "broken",
		Body: "{{.NoSuchMethod.Deeper}}",
	}
	_, _, err := tmpl.Render(TemplateContext{List: templateTestList()})
	require.Error(t, err)
}
