package booking

import (
	"strings"

	"github.com/md-rashed-zaman/studiobook/libs/events"
	"github.com/md-rashed-zaman/studiobook/libs/i18n"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

type template struct {
	title   i18n.Text
	message i18n.Text
}

var templates = map[string]template{
	events.KindAppointmentConfirmed: {
		title: i18n.Text{
			"de": "Termin bestätigt",
			"en": "Appointment confirmed",
			"fr": "Rendez-vous confirmé",
		},
		message: i18n.Text{
			"de": "Ihr Termin für {service} am {date} um {time} Uhr wurde bestätigt.",
			"en": "Your appointment for {service} on {date} at {time} has been confirmed.",
			"fr": "Votre rendez-vous pour {service} le {date} à {time} a été confirmé.",
		},
	},
	events.KindAppointmentCancelled: {
		title: i18n.Text{
			"de": "Termin abgesagt",
			"en": "Appointment cancelled",
			"fr": "Rendez-vous annulé",
		},
		message: i18n.Text{
			"de": "Ihr Termin für {service} am {date} um {time} Uhr wurde abgesagt.",
			"en": "Your appointment for {service} on {date} at {time} has been cancelled.",
			"fr": "Votre rendez-vous pour {service} le {date} à {time} a été annulé.",
		},
	},
	events.KindAppointmentReminder: {
		title: i18n.Text{
			"de": "Terminerinnerung",
			"en": "Appointment reminder",
			"fr": "Rappel de rendez-vous",
		},
		message: i18n.Text{
			"de": "Erinnerung: Ihr Termin für {service} beginnt am {date} um {time} Uhr.",
			"en": "Reminder: your appointment for {service} starts on {date} at {time}.",
			"fr": "Rappel : votre rendez-vous pour {service} commence le {date} à {time}.",
		},
	},
}

var fallbackServiceName = i18n.Text{
	"de": "Ihren Service",
	"en": "your service",
	"fr": "votre prestation",
}

var dateLayouts = map[string]string{
	"de": "02.01.2006",
	"en": "2006-01-02",
	"fr": "02/01/2006",
}

// notificationFor renders the localized notification of kind for appt. serviceName may be nil.
func notificationFor(kind string, appt model.Appointment, serviceName i18n.Text) events.NotificationRequested {
	tpl := templates[kind]
	if len(serviceName) == 0 {
		serviceName = fallbackServiceName
	}
	clock := availability.FormatClock(appt.StartMinute)

	msg := make(i18n.Text, len(tpl.message))
	for lang, text := range tpl.message {
		layout, ok := dateLayouts[lang]
		if !ok {
			layout = availability.DayLayout
		}
		msg[lang] = strings.NewReplacer(
			"{service}", serviceName.Resolve(lang),
			"{date}", appt.Date.Format(layout),
			"{time}", clock,
		).Replace(text)
	}

	return events.NotificationRequested{
		UserID:          appt.Customer.UserID,
		Kind:            kind,
		Title:           tpl.title,
		Message:         msg,
		AppointmentID:   appt.ID,
		AppointmentDate: appt.Date.Format(availability.DayLayout),
	}
}
