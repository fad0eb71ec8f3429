package protocol

// Channel vocabularies per role, checked before a message is enqueued.
var (
	MeetingChannels = Channels{
		"": {
			EventScheduleMeeting: Expect[ScheduleMeeting](),
			EventRunStandup:      Expect[RunMeeting](),
			EventRunSync:         Expect[RunMeeting](),
			EventSendPing:        Expect[SendPing](),
			EventPingResponse:    Expect[PingResponse](),
			EventGetStatus:       nil,
		},
	}

	HRChannels = Channels{
		"": {
			EventHireEmployee:  Expect[HireEmployee](),
			EventNewTask:       Expect[NewTask](),
			EventTaskCompleted: Expect[TaskCompleted](),
			EventGetStatus:     nil,
		},
	}

	CEOChannels = Channels{
		"": {
			EventSetGoal:         Expect[SetGoal](),
			EventRegisterManager: Expect[Introduction](),
			EventRequestReports:  nil,
			EventManagerReport:   Expect[ManagerReport](),
			EventGetStatus:       nil,
		},
	}

	ManagerChannels = Channels{
		"": {
			EventAddReport:            Expect[Introduction](),
			EventNewTask:              Expect[NewTask](),
			EventDeliverableSubmitted: Expect[DeliverableSubmitted](),
			EventGenerateReport:       Expect[GenerateReport](),
			EventReportFeedback:       Expect[ReportFeedback](),
			EventGetStatus:            nil,
		},
		ChannelPing:    participantPing,
		ChannelMeeting: participantMeeting,
	}

	ICChannels = Channels{
		"": {
			EventAssignTask:      Expect[AssignTask](),
			EventRequestRevision: Expect[RequestRevision](),
			EventTaskApproved:    Expect[TaskApproved](),
			EventGetStatus:       nil,
		},
		ChannelPing:    participantPing,
		ChannelMeeting: participantMeeting,
	}

	participantPing = Vocabulary{
		EventPing:      Expect[Ping](),
		EventPingReply: Expect[PingReply](),
	}

	participantMeeting = Vocabulary{
		EventMeetingNotice: Expect[MeetingNotice](),
	}
)
