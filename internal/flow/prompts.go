package flow

// Fixed replies shared across flows.
const (
	MsgGenericError    = "Sorry, I didn't understand that. Reply HELP to see what you can do."
	MsgApology         = "Sorry, something went wrong on our side. Please try again in a moment."
	MsgStillProcessing = "We're still processing your previous message. Please wait a moment and try again."
	MsgComingSoon      = "Updating your profile over chat is coming soon. Please contact support for changes."
	SupportContact     = "support@bloodlink.ng or +234 800 000 0000"
)

// Welcome
var PromptWelcome = NumberedMenu("👋 Welcome to BloodLink!\n\nHow would you like to use BloodLink? Reply with a number:",
	"I want to donate blood",
	"I represent a hospital")

// Donor registration
const (
	PromptDonorName       = "Great! Let's get you registered as a donor. 🩸\n\nWhat is your full name? (first and last name)"
	PromptGenotype        = "What is your genotype?\nA. AA\nB. AS\nC. AC\nD. SS\n\nReply with the letter or type it (e.g. SC)."
	PromptScreening       = "Have you ever tested positive for HIV, Hepatitis B or Hepatitis C, or do you have a chronic illness?\n\nReply YES, NO or UNSURE."
	PromptScreeningDetail = "Which of these apply? Reply with all the numbers that apply (e.g. 1,3) or NONE.\n1. HIV\n2. Hepatitis B\n3. Hepatitis C\n4. Other chronic illness"
	PromptLocation        = "Where are you based? Reply as City, State (e.g. Ikeja, Lagos)."
	PromptBank            = "Please share your bank details for donor rewards:\n\nBank name: <bank>\nAccount number: <10 digits>\nAccount name: <name>"
	PromptIDDocument      = "Finally, please send a clear photo of a government-issued ID."
)

// PromptBloodType lists the blood-type letters accepted by the registration step.
var PromptBloodType = LetteredMenu("What is your blood type?",
	"A+", "A-", "B+", "B-", "O+", "O-", "AB+", "AB-") + "\n\nReply with the letter or type it (e.g. O+)."

// Hospital registration
const (
	PromptHospitalName   = "Let's register your hospital. 🏥\n\nWhat is the hospital's full name?"
	PromptLicenseNumber  = "What is the hospital's operating license number?"
	PromptContact        = "What is the hospital's contact phone number or email?"
	PromptAddress        = "What is the hospital's full address?"
	PromptAdminName      = "What is the name of the administrator managing this account?"
	PromptAdminPhone     = "What is the administrator's phone number?"
	PromptPictures       = "Please send 1 to 5 pictures of the hospital (photos, or links separated by commas). Reply DONE when finished."
	MsgLicenseRegistered = "A hospital with that license number is already registered. Please check the number and send it again."
)

// Donor idle
var PromptDonorHelp = "Here's what you can do:\n" +
	"• STATUS - view your profile and eligibility\n" +
	"• DONATE - see blood requests you can help with\n" +
	"• BUSY - pause request notifications\n" +
	"• HISTORY - list your pledges\n" +
	"• CANCEL <n> - cancel pledge n from your history\n" +
	"• HELP - show this menu"
