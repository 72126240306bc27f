package syncerr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys for human-readable error text. Three groups share keys.
const (
	KeyConnectionError  = "icloud_synchronization_error_connection_error"
	KeyQuotaExceeded    = "icloud_synchronization_error_quota_exceeded"
	KeyCloudUnavailable = "icloud_synchronization_error_cloud_is_unavailable"
)

// Description returns the message key for the kind. Unclassified failures
// are presented as a connection error.
func Description(kind Kind) string {
	switch kind {
	case KindFileNotUploadedDueToQuota:
		return KeyQuotaExceeded
	case KindCloudNotAvailable, KindContainerNotFound:
		return KeyCloudUnavailable
	default:
		return KeyConnectionError
	}
}

var messages = map[language.Tag]map[string]string{
	language.English: {
		KeyConnectionError:  "Cloud synchronization failed: unable to reach the cloud service.",
		KeyQuotaExceeded:    "Cloud synchronization failed: your cloud storage is full.",
		KeyCloudUnavailable: "Cloud synchronization is unavailable. Check that you are signed in to your cloud account.",
	},
	language.German: {
		KeyConnectionError:  "Cloud-Synchronisierung fehlgeschlagen: Der Cloud-Dienst ist nicht erreichbar.",
		KeyQuotaExceeded:    "Cloud-Synchronisierung fehlgeschlagen: Ihr Cloud-Speicher ist voll.",
		KeyCloudUnavailable: "Cloud-Synchronisierung ist nicht verfügbar. Prüfen Sie, ob Sie angemeldet sind.",
	},
	language.Russian: {
		KeyConnectionError:  "Ошибка синхронизации: облачный сервис недоступен.",
		KeyQuotaExceeded:    "Ошибка синхронизации: облачное хранилище заполнено.",
		KeyCloudUnavailable: "Синхронизация недоступна. Проверьте вход в облачную учётную запись.",
	},
}

// supportedLanguages is ordered so that English wins when nothing matches.
var supportedLanguages = []language.Tag{language.English, language.German, language.Russian}

var (
	messageCatalog  = buildCatalog()
	languageMatcher = language.NewMatcher(supportedLanguages)
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	for _, tag := range supportedLanguages {
		for key, text := range messages[tag] {
			if err := b.SetString(tag, key, text); err != nil {
				panic("syncerr: building message catalog: " + err.Error())
			}
		}
	}

	return b
}

// Localize renders the kind's description in the best available language
// for tag, falling back to English.
func Localize(kind Kind, tag language.Tag) string {
	_, idx, _ := languageMatcher.Match(tag)
	p := message.NewPrinter(supportedLanguages[idx], message.Catalog(messageCatalog))

	return p.Sprintf(Description(kind))
}
